package session

import (
    "fmt"
    "strings"
    "time"

    "github.com/park285/cheese-arena/internal/rules"
)

// Errors. Guard failures are rejections: the event is dropped and no
// replace reaches the store.
var (
    ErrRejected   = errf("transition rejected")
    ErrRoomFull   = errf("room already has a guest")
    ErrNoGuest    = errf("no guest has joined")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

func reject(reason string) error { return fmt.Errorf("%w: %s", ErrRejected, reason) }

// EventType enumerates session events.
type EventType string

const (
    EventJoin        EventType = "join"
    EventReady       EventType = "ready"
    EventStart       EventType = "start"
    EventMove        EventType = "move"
    EventTurnTimeout EventType = "turn_timeout"
    EventResign      EventType = "resign"
    EventLeave       EventType = "leave"
    EventHeartbeat   EventType = "heartbeat"
    EventPeerStale   EventType = "peer_stale"
    EventPeerRecover EventType = "peer_recover"
    EventForfeit     EventType = "forfeit"
    EventRematch     EventType = "rematch"
    EventChat        EventType = "chat"
)

// Event carries one session event into the machine. Unused fields stay
// zero for event types that do not need them.
type Event struct {
    Type  EventType
    Actor Role

    // join
    ActorID   string
    ActorName string
    Record    *RecordSnapshot

    // move
    From string
    To   string

    // turn_timeout idempotency key: the TurnStartTime the issuer saw
    TurnStart time.Time

    // chat
    MsgID string
    Text  string
}

// Machine is the pure transition function over room snapshots. It
// never mutates its input and never touches the store; both peers run
// an identical copy, so every transition must be safe to compute
// redundantly and safe to lose a last-writer-wins race.
type Machine struct {
    oracle rules.Oracle
}

func NewMachine(o rules.Oracle) *Machine { return &Machine{oracle: o} }

// Apply computes the successor room for an event, or returns an error
// with no successor. Errors wrapping ErrRejected mean "ignore, do not
// write"; ErrRoomFull surfaces to the user.
func (m *Machine) Apply(r Room, ev Event, now time.Time) (Room, error) {
    switch ev.Type {
    case EventJoin:
        return m.join(r, ev)
    case EventReady:
        return m.ready(r, ev)
    case EventStart:
        return m.start(r, ev, now)
    case EventMove:
        return m.move(r, ev, now)
    case EventTurnTimeout:
        return m.turnTimeout(r, ev, now)
    case EventResign:
        return m.resign(r, ev, now)
    case EventLeave:
        return m.leave(r, ev, now)
    case EventHeartbeat:
        return m.heartbeat(r, ev, now)
    case EventPeerStale:
        return m.peerStale(r, ev, now)
    case EventPeerRecover:
        return m.peerRecover(r, ev)
    case EventForfeit:
        return m.forfeit(r, ev, now)
    case EventRematch:
        return m.rematch(r, ev, now)
    case EventChat:
        return m.chat(r, ev, now)
    }
    return r, reject("unknown event " + string(ev.Type))
}

func (m *Machine) join(r Room, ev Event) (Room, error) {
    if ev.ActorID == "" { return r, reject("empty participant id") }
    if r.GuestID != "" {
        if r.GuestID == ev.ActorID {
            // 재접속: 상태 변화 없음
            return r, reject("already joined")
        }
        return r, ErrRoomFull
    }
    if r.Status != StatusWaiting { return r, reject("room not waiting") }
    out := r.Clone()
    out.GuestID = ev.ActorID
    out.GuestNickname = ev.ActorName
    out.GuestRecord = ev.Record
    out.GuestReady = false
    return out, nil
}

func (m *Machine) ready(r Room, ev Event) (Room, error) {
    if ev.Actor != RoleGuest { return r, reject("only the guest declares ready") }
    if r.GuestID == "" { return r, ErrNoGuest }
    if r.Status != StatusWaiting { return r, reject("room not waiting") }
    out := r.Clone()
    out.Status = StatusReady
    out.GuestReady = true
    return out, nil
}

func (m *Machine) start(r Room, ev Event, now time.Time) (Room, error) {
    if ev.Actor != RoleHost { return r, reject("only the host starts") }
    if r.Status != StatusReady || !r.GuestReady { return r, reject("guest not ready") }
    if r.GuestID == "" { return r, ErrNoGuest }
    out := r.Clone()
    out.Status = StatusPlaying
    out.Position = m.oracle.Initial()
    out.CurrentTurn = White
    out.TurnStartTime = now
    out.LastMove = nil
    out.Winner = ""
    return out, nil
}

func (m *Machine) move(r Room, ev Event, now time.Time) (Room, error) {
    if r.Status != StatusPlaying { return r, reject("not playing") }
    if r.ColorOf(ev.Actor) != r.CurrentTurn { return r, reject("not your turn") }
    from := strings.ToLower(strings.TrimSpace(ev.From))
    to := strings.ToLower(strings.TrimSpace(ev.To))
    next, err := m.oracle.Apply(r.Position, from, to)
    if err != nil { return r, reject("illegal move") }
    return m.commitMove(r, next, &MovePair{From: from, To: to}, now)
}

// turnTimeout commits an auto-move for the side that let the 30s turn
// clock expire. Only the participant whose turn it is issues this; the
// TurnStart equality guard makes a duplicate fire for the same turn a
// rejection after the first one lands.
func (m *Machine) turnTimeout(r Room, ev Event, now time.Time) (Room, error) {
    if r.Status != StatusPlaying { return r, reject("not playing") }
    if r.ColorOf(ev.Actor) != r.CurrentTurn { return r, reject("not your turn") }
    if !ev.TurnStart.Equal(r.TurnStartTime) { return r, reject("stale turn clock") }
    if now.Sub(r.TurnStartTime) < TurnLimit { return r, reject("turn clock not expired") }
    next, chosen, err := m.oracle.AutoMove(r.Position)
    if err != nil { return r, reject("auto-move unavailable") }
    lm := &MovePair{}
    if len(chosen) >= 4 { lm.From, lm.To = chosen[:2], chosen[2:4] }
    return m.commitMove(r, next, lm, now)
}

func (m *Machine) commitMove(r Room, next rules.Position, lm *MovePair, now time.Time) (Room, error) {
    out := r.Clone()
    out.Position = next
    out.LastMove = lm
    if out.CurrentTurn == White { out.CurrentTurn = Black } else { out.CurrentTurn = White }
    out.TurnStartTime = now
    // 종국 판정: 체크메이트/스테일메이트는 수가 들어온 시점에 확정
    outcome, err := m.oracle.Outcome(next)
    if err == nil && outcome != rules.OutcomeNone {
        switch outcome {
        case rules.OutcomeWhite:
            return finishWith(out, out.RoleOf(White)), nil
        case rules.OutcomeBlack:
            return finishWith(out, out.RoleOf(Black)), nil
        case rules.OutcomeDraw:
            out.Status = StatusFinished
            out.Winner = WinnerDraw
            // 무승부는 previousLoser를 바꾸지 않는다
        }
    }
    return out, nil
}

func (m *Machine) resign(r Room, ev Event, now time.Time) (Room, error) {
    if r.Status != StatusPlaying { return r, reject("not playing") }
    _ = now
    return finishWith(r.Clone(), Opponent(ev.Actor)), nil
}

// leave while playing or paused forfeits the game to the remaining
// side. Leaving a waiting room as guest frees the slot; the host-side
// empty-room delete happens in the coordinator, not here.
func (m *Machine) leave(r Room, ev Event, now time.Time) (Room, error) {
    _ = now
    switch r.Status {
    case StatusPlaying, StatusPaused:
        return finishWith(r.Clone(), Opponent(ev.Actor)), nil
    case StatusWaiting, StatusReady:
        if ev.Actor != RoleGuest || r.GuestID == "" { return r, reject("nothing to leave") }
        out := r.Clone()
        out.GuestID = ""
        out.GuestNickname = ""
        out.GuestRecord = nil
        out.GuestReady = false
        out.Status = StatusWaiting
        return out, nil
    }
    return r, reject("game already finished")
}

func (m *Machine) heartbeat(r Room, ev Event, now time.Time) (Room, error) {
    out := r.Clone()
    if ev.Actor == RoleHost { out.HostLastActive = now } else { out.GuestLastActive = now }
    return out, nil
}

// peerStale pauses the room on behalf of a stale peer. The guard keeps
// a participant from ever declaring itself disconnected; the actor is
// the observer, the stale side is the opponent.
func (m *Machine) peerStale(r Room, ev Event, now time.Time) (Room, error) {
    if r.Status != StatusPlaying { return r, reject("not playing") }
    peer := Opponent(ev.Actor)
    if now.Sub(r.LastActive(peer)) < StaleAfter { return r, reject("peer heartbeat fresh") }
    out := r.Clone()
    out.Status = StatusPaused
    out.DisconnectedPlayer = peer
    out.DisconnectedAt = now
    return out, nil
}

// peerRecover resumes a paused room once the disconnected side's
// heartbeat is fresh again. The turn clock is deliberately left
// untouched: pausing does not grant thinking time.
func (m *Machine) peerRecover(r Room, ev Event) (Room, error) {
    if r.Status != StatusPaused { return r, reject("not paused") }
    if r.DisconnectedPlayer == "" { return r, reject("no disconnect marker") }
    _ = ev
    out := r.Clone()
    out.Status = StatusPlaying
    out.DisconnectedPlayer = ""
    out.DisconnectedAt = time.Time{}
    return out, nil
}

func (m *Machine) forfeit(r Room, ev Event, now time.Time) (Room, error) {
    if r.Status != StatusPaused { return r, reject("not paused") }
    if now.Sub(r.DisconnectedAt) < ForfeitAfter { return r, reject("forfeit window open") }
    _ = ev
    return finishWith(r.Clone(), Opponent(r.DisconnectedPlayer)), nil
}

func (m *Machine) rematch(r Room, ev Event, now time.Time) (Room, error) {
    if ev.Actor != RoleHost { return r, reject("only the host restarts") }
    if r.Status != StatusFinished { return r, reject("game not finished") }
    if r.GuestID == "" { return r, ErrNoGuest }
    out := r.Clone()
    out.Status = StatusPlaying
    out.Position = m.oracle.Initial()
    out.CurrentTurn = White
    out.TurnStartTime = now
    out.LastMove = nil
    out.Winner = ""
    out.DisconnectedPlayer = ""
    out.DisconnectedAt = time.Time{}
    return out, nil
}

func (m *Machine) chat(r Room, ev Event, now time.Time) (Room, error) {
    text := strings.TrimSpace(ev.Text)
    if text == "" { return r, reject("empty message") }
    out := r.Clone()
    name := out.HostNickname
    id := out.HostID
    if ev.Actor == RoleGuest { name, id = out.GuestNickname, out.GuestID }
    out.Messages = append(out.Messages, Message{
        ID:         ev.MsgID,
        Seq:        out.NextSeq(),
        SenderID:   id,
        SenderName: name,
        Text:       text,
        Timestamp:  now,
    })
    return out, nil
}

// finishWith closes the game with the winning slot. The winner role is
// resolved before previousLoser moves so the color rule for the next
// game cannot leak into this one's result.
func finishWith(out Room, winner Role) Room {
    out.Status = StatusFinished
    if winner == RoleHost { out.Winner = WinnerHost } else { out.Winner = WinnerGuest }
    out.PreviousLoser = Opponent(winner)
    out.DisconnectedPlayer = ""
    out.DisconnectedAt = time.Time{}
    return out
}
