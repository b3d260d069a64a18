package rules

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove  = errors.New("illegal move")
	ErrNoLegalMoves = errors.New("no legal moves")
	ErrBadPosition  = errors.New("position replay failed")
)

// Outcome is the terminal verdict of a position.
type Outcome string

const (
	OutcomeNone  Outcome = "none"
	OutcomeWhite Outcome = "white"
	OutcomeBlack Outcome = "black"
	OutcomeDraw  Outcome = "draw"
)

// Position is the board encoding shared through the room record. The
// session layer treats it as opaque; only this package interprets it.
// The move list is authoritative, FEN and SAN ride along for display.
type Position struct {
	MovesUCI []string `json:"moves_uci"`
	MovesSAN []string `json:"moves_san"`
	FEN      string   `json:"fen"`
}

// Oracle answers move legality questions and applies moves. Promotion
// is fixed to the queen; under-promotion is never offered.
type Oracle interface {
	Initial() Position
	LegalDestinations(pos Position, from string) ([]string, error)
	Apply(pos Position, from, to string) (Position, error)
	AutoMove(pos Position) (Position, string, error)
	Outcome(pos Position) (Outcome, error)
}

type oracle struct{}

// New returns the chess rules oracle.
func New() Oracle { return oracle{} }

func (oracle) Initial() Position {
	g := nchess.NewGame()
	return Position{MovesUCI: []string{}, MovesSAN: []string{}, FEN: g.FEN()}
}

func (oracle) LegalDestinations(pos Position, from string) ([]string, error) {
	game := replay(pos)
	if game == nil {
		return nil, ErrBadPosition
	}
	from = strings.ToLower(strings.TrimSpace(from))
	var out []string
	seen := map[string]bool{}
	for _, mv := range game.ValidMoves() {
		if mv.S1().String() != from {
			continue
		}
		if skipUnderPromotion(mv) {
			continue
		}
		to := mv.S2().String()
		if !seen[to] {
			seen[to] = true
			out = append(out, to)
		}
	}
	return out, nil
}

func (oracle) Apply(pos Position, from, to string) (Position, error) {
	game := replay(pos)
	if game == nil {
		return pos, ErrBadPosition
	}
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	before := game.Position()
	for _, mv := range game.ValidMoves() {
		if mv.S1().String() != from || mv.S2().String() != to {
			continue
		}
		if skipUnderPromotion(mv) {
			continue
		}
		if err := game.Move(&mv, nil); err != nil {
			return pos, ErrIllegalMove
		}
		return record(pos, before, mv, game), nil
	}
	return pos, ErrIllegalMove
}

// AutoMove commits a randomly chosen legal move for the side to move.
// 차례를 넘긴 쪽 대신 두는 자동 수. 임의 선택이면 충분하다.
func (oracle) AutoMove(pos Position) (Position, string, error) {
	game := replay(pos)
	if game == nil {
		return pos, "", ErrBadPosition
	}
	before := game.Position()
	var candidates []nchess.Move
	for _, mv := range game.ValidMoves() {
		if skipUnderPromotion(mv) {
			continue
		}
		candidates = append(candidates, mv)
	}
	if len(candidates) == 0 {
		return pos, "", ErrNoLegalMoves
	}
	idx := 0
	if n, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates)))); err == nil {
		idx = int(n.Int64())
	}
	mv := candidates[idx]
	if err := game.Move(&mv, nil); err != nil {
		return pos, "", ErrIllegalMove
	}
	next := record(pos, before, mv, game)
	return next, next.MovesUCI[len(next.MovesUCI)-1], nil
}

func (oracle) Outcome(pos Position) (Outcome, error) {
	game := replay(pos)
	if game == nil {
		return OutcomeNone, ErrBadPosition
	}
	switch game.Outcome() {
	case nchess.WhiteWon:
		return OutcomeWhite, nil
	case nchess.BlackWon:
		return OutcomeBlack, nil
	case nchess.Draw:
		return OutcomeDraw, nil
	default:
		return OutcomeNone, nil
	}
}

// replay reconstructs from the start position by applying stored UCI
// moves. Applying the stored FEN instead can double-apply moves.
func replay(pos Position) *nchess.Game {
	game := nchess.NewGame()
	for _, mv := range pos.MovesUCI {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

func record(pos Position, before *nchess.Position, mv nchess.Move, game *nchess.Game) Position {
	uci := strings.ToLower(nchess.UCINotation{}.Encode(before, &mv))
	san := nchess.AlgebraicNotation{}.Encode(before, &mv)
	next := Position{
		MovesUCI: append(append([]string(nil), pos.MovesUCI...), uci),
		MovesSAN: append(append([]string(nil), pos.MovesSAN...), san),
		FEN:      game.FEN(),
	}
	return next
}

// skipUnderPromotion drops promotion variants other than the queen.
func skipUnderPromotion(mv nchess.Move) bool {
	p := mv.Promo()
	return p != nchess.NoPieceType && p != nchess.Queen
}
