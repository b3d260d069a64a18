package coordinator

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/redis/go-redis/v9"

    "github.com/park285/cheese-arena/internal/account"
    "github.com/park285/cheese-arena/internal/clock"
    "github.com/park285/cheese-arena/internal/roomstore"
    "github.com/park285/cheese-arena/internal/rules"
    "github.com/park285/cheese-arena/internal/session"
)

type fixture struct {
    deps  Deps
    store *roomstore.RedisStore
    clk   *clock.Fake
    accts *account.MemStore
}

func newFixture(t *testing.T) *fixture {
    t.Helper()
    mr, err := miniredis.Run()
    if err != nil { t.Fatalf("miniredis: %v", err) }
    t.Cleanup(mr.Close)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })
    st := roomstore.NewRedisStoreFromClient(rdb, time.Hour)
    clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
    accts := account.NewMemStore()
    return &fixture{
        deps:  Deps{Store: st, Oracle: rules.New(), Clock: clk, Accounts: accts},
        store: st,
        clk:   clk,
        accts: accts,
    }
}

func (f *fixture) room(t *testing.T, code string) session.Room {
    t.Helper()
    r, err := f.store.Get(context.Background(), code)
    if err != nil { t.Fatalf("get room: %v", err) }
    if r == nil { t.Fatalf("room %s gone", code) }
    return *r
}

// pair hosts a room, joins it, and stops both tick loops so tests can
// drive the scans by hand against the fake clock.
func pair(t *testing.T, f *fixture) (*Coordinator, *Coordinator) {
    t.Helper()
    ctx := context.Background()
    host, err := Host(ctx, f.deps, "h1", "host", false)
    if err != nil { t.Fatalf("host: %v", err) }
    guest, err := Join(ctx, f.deps, host.Code(), "g1", "guest")
    if err != nil { t.Fatalf("join: %v", err) }
    host.Close()
    guest.Close()
    t.Cleanup(host.Close)
    t.Cleanup(guest.Close)
    return host, guest
}

func startGame(t *testing.T, f *fixture, host, guest *Coordinator) {
    t.Helper()
    ctx := context.Background()
    if err := guest.DeclareReady(ctx); err != nil { t.Fatalf("ready: %v", err) }
    if err := host.StartGame(ctx); err != nil { t.Fatalf("start: %v", err) }
    // seed both heartbeat fields
    host.emitHeartbeat()
    guest.emitHeartbeat()
    if r := f.room(t, host.Code()); r.Status != session.StatusPlaying {
        t.Fatalf("setup: expected playing, got %s", r.Status)
    }
}

func TestHostJoinStartFlow(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)

    r := f.room(t, host.Code())
    if r.GuestID != "g1" || r.Status != session.StatusWaiting {
        t.Fatalf("unexpected room after join: %+v", r)
    }

    startGame(t, f, host, guest)
    r = f.room(t, host.Code())
    if r.CurrentTurn != session.White { t.Fatalf("white to move, got %s", r.CurrentTurn) }
    if r.ColorOf(session.RoleHost) != session.White { t.Fatalf("first game: host plays white") }
}

func TestJoinErrors(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()

    if _, err := Join(ctx, f.deps, "00000", "g1", "guest"); !errors.Is(err, ErrRoomNotFound) {
        t.Fatalf("expected ErrRoomNotFound, got %v", err)
    }

    host, guest := pair(t, f)
    _ = guest
    if _, err := Join(ctx, f.deps, host.Code(), "g2", "other"); !errors.Is(err, ErrRoomFull) {
        t.Fatalf("expected ErrRoomFull, got %v", err)
    }
}

func TestMoveAndHints(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)
    startGame(t, f, host, guest)
    ctx := context.Background()

    dests, err := host.LegalDestinations("e2")
    if err != nil { t.Fatalf("hints: %v", err) }
    if len(dests) != 2 { t.Fatalf("expected 2 destinations for e2, got %v", dests) }
    // 상대 차례에는 힌트를 주지 않는다
    if dests, _ := guest.LegalDestinations("e7"); dests != nil {
        t.Fatalf("guest got hints out of turn: %v", dests)
    }

    if err := guest.AttemptMove(ctx, "e7", "e5"); !errors.Is(err, session.ErrRejected) {
        t.Fatalf("out-of-turn move accepted: %v", err)
    }
    if err := host.AttemptMove(ctx, "e2", "e4"); err != nil { t.Fatalf("move: %v", err) }

    r := f.room(t, host.Code())
    if r.CurrentTurn != session.Black { t.Fatalf("turn not passed: %s", r.CurrentTurn) }
    if len(r.Position.MovesUCI) != 1 || r.Position.MovesUCI[0] != "e2e4" {
        t.Fatalf("move not recorded: %v", r.Position.MovesUCI)
    }
}

func TestTurnClockFiresOnceForSideToMove(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)
    startGame(t, f, host, guest)

    f.clk.Advance(31 * time.Second)

    // the side not to move never fires
    guest.emitHeartbeat() // refresh mirror
    guest.scanTurnClock()
    if r := f.room(t, host.Code()); len(r.Position.MovesUCI) != 0 {
        t.Fatalf("guest fired the host's turn clock: %v", r.Position.MovesUCI)
    }

    host.emitHeartbeat()
    host.scanTurnClock()
    r := f.room(t, host.Code())
    if len(r.Position.MovesUCI) != 1 { t.Fatalf("expected one auto move, got %v", r.Position.MovesUCI) }
    if r.CurrentTurn != session.Black { t.Fatalf("turn must pass to black") }

    // a second scan against the same expired turn is a no-op
    host.scanTurnClock()
    if r := f.room(t, host.Code()); len(r.Position.MovesUCI) != 1 {
        t.Fatalf("auto move fired twice: %v", r.Position.MovesUCI)
    }
}

func TestPresencePauseAndRecover(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)
    startGame(t, f, host, guest)

    // guest goes silent for 21s; the host keeps beating and pauses the room
    f.clk.Advance(21 * time.Second)
    host.emitHeartbeat()
    host.scanPresence()
    r := f.room(t, host.Code())
    if r.Status != session.StatusPaused || r.DisconnectedPlayer != session.RoleGuest {
        t.Fatalf("expected paused on stale guest: %+v", r)
    }
    turnClock := r.TurnStartTime

    // guest comes back: fresh beat, host observes and resumes
    guest.emitHeartbeat()
    host.emitHeartbeat()
    host.scanPresence()
    r = f.room(t, host.Code())
    if r.Status != session.StatusPlaying { t.Fatalf("expected resumed game, got %s", r.Status) }
    if r.DisconnectedPlayer != "" { t.Fatalf("disconnect marker not cleared") }
    if !r.TurnStartTime.Equal(turnClock) { t.Fatalf("turn clock reset by pause/recover") }
    if r.Winner != "" { t.Fatalf("pause/recover produced a result: %s", r.Winner) }
}

func TestPresenceForfeit(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)
    startGame(t, f, host, guest)

    f.clk.Advance(21 * time.Second)
    host.emitHeartbeat()
    host.scanPresence()
    if r := f.room(t, host.Code()); r.Status != session.StatusPaused {
        t.Fatalf("setup: expected paused, got %s", r.Status)
    }

    // 60s of silence after the pause: the present side wins
    f.clk.Advance(61 * time.Second)
    host.emitHeartbeat()
    host.scanPresence()
    r := f.room(t, host.Code())
    if r.Status != session.StatusFinished || r.Winner != session.WinnerHost {
        t.Fatalf("expected host win by forfeit: %+v", r)
    }
    if r.PreviousLoser != session.RoleGuest { t.Fatalf("previous loser not set") }

    a, _ := f.accts.Get(context.Background(), "h1")
    if a == nil || a.Wins != 1 { t.Fatalf("host win not recorded: %+v", a) }
    _ = guest
}

func TestResultRecordedOncePerGame(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)
    startGame(t, f, host, guest)
    ctx := context.Background()

    if err := guest.Resign(ctx); err != nil { t.Fatalf("resign: %v", err) }
    // guest observed the finish through its own write; the host catches
    // up on its next beat
    host.emitHeartbeat()

    ha, _ := f.accts.Get(ctx, "h1")
    ga, _ := f.accts.Get(ctx, "g1")
    if ha == nil || ha.Wins != 1 || ha.Losses != 0 { t.Fatalf("host record wrong: %+v", ha) }
    if ga == nil || ga.Losses != 1 || ga.Wins != 0 { t.Fatalf("guest record wrong: %+v", ga) }

    // repeated observations of the same finished game count nothing
    host.emitHeartbeat()
    host.emitHeartbeat()
    ha, _ = f.accts.Get(ctx, "h1")
    if ha.Wins != 1 { t.Fatalf("result double counted: %+v", ha) }

    // a rematch re-arms the guard for the next game
    if err := host.Rematch(ctx); err != nil { t.Fatalf("rematch: %v", err) }
    if err := host.Resign(ctx); err != nil { t.Fatalf("second resign: %v", err) }
    ha, _ = f.accts.Get(ctx, "h1")
    if ha.Wins != 1 || ha.Losses != 1 { t.Fatalf("second game not recorded: %+v", ha) }
}

func TestDrawRecordedForBothSides(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)
    startGame(t, f, host, guest)
    ctx := context.Background()

    // 최단 스테일메이트 수순 (Sam Loyd). 호스트가 백.
    line := []string{
        "e2e3", "a7a5", "d1h5", "a8a6", "h5a5", "h7h5", "a5c7", "a6h6",
        "h2h4", "f7f6", "c7d7", "e8f7", "d7b7", "d8d3", "b7b8", "d3h7",
        "b8c8", "f7g6", "c8e6",
    }
    for i, mv := range line {
        c := host
        if i%2 == 1 { c = guest }
        if err := c.AttemptMove(ctx, mv[:2], mv[2:4]); err != nil {
            t.Fatalf("move %d %s: %v", i, mv, err)
        }
    }

    r := f.room(t, host.Code())
    if r.Status != session.StatusFinished || r.Winner != session.WinnerDraw {
        t.Fatalf("expected drawn game, got %+v", r)
    }

    // the drawing side saw the finish through its own write; the other
    // side catches up on its next beat
    guest.emitHeartbeat()
    ha, _ := f.accts.Get(ctx, "h1")
    ga, _ := f.accts.Get(ctx, "g1")
    if ha == nil || ha.Draws != 1 || ha.Wins != 0 || ha.Losses != 0 {
        t.Fatalf("host draw not recorded: %+v", ha)
    }
    if ga == nil || ga.Draws != 1 || ga.Wins != 0 || ga.Losses != 0 {
        t.Fatalf("guest draw not recorded: %+v", ga)
    }

    host.emitHeartbeat()
    ha, _ = f.accts.Get(ctx, "h1")
    if ha.Draws != 1 { t.Fatalf("draw double counted: %+v", ha) }
}

func TestRematchSwapsColors(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)
    startGame(t, f, host, guest)
    ctx := context.Background()

    if err := guest.Resign(ctx); err != nil { t.Fatalf("resign: %v", err) }
    if err := host.Rematch(ctx); err != nil { t.Fatalf("rematch: %v", err) }

    r := f.room(t, host.Code())
    if r.Status != session.StatusPlaying { t.Fatalf("rematch did not start: %s", r.Status) }
    if r.ColorOf(session.RoleGuest) != session.White {
        t.Fatalf("loser must open the rematch, guest expected white")
    }
    if err := host.AttemptMove(ctx, "e2", "e4"); !errors.Is(err, session.ErrRejected) {
        t.Fatalf("host moved while playing black: %v", err)
    }
    if err := guest.AttemptMove(ctx, "e2", "e4"); err != nil { t.Fatalf("guest opening move: %v", err) }
}

func TestHostLeavingEmptyRoomDeletes(t *testing.T) {
    f := newFixture(t)
    ctx := context.Background()
    host, err := Host(ctx, f.deps, "h1", "host", false)
    if err != nil { t.Fatalf("host: %v", err) }
    host.Close()

    if err := host.Leave(ctx); err != nil { t.Fatalf("leave: %v", err) }
    r, err := f.store.Get(ctx, host.Code())
    if err != nil { t.Fatalf("get: %v", err) }
    if r != nil { t.Fatalf("empty room survived host leave: %+v", r) }
}

func TestLeaveMidGameForfeits(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)
    startGame(t, f, host, guest)
    ctx := context.Background()

    if err := guest.Leave(ctx); err != nil { t.Fatalf("leave: %v", err) }
    r := f.room(t, host.Code())
    if r.Status != session.StatusFinished || r.Winner != session.WinnerHost {
        t.Fatalf("mid-game leave must forfeit: %+v", r)
    }
}

func TestChatRoundTrip(t *testing.T) {
    f := newFixture(t)
    host, guest := pair(t, f)
    startGame(t, f, host, guest)
    ctx := context.Background()

    if err := host.SendChat(ctx, "gg"); err != nil { t.Fatalf("chat: %v", err) }
    if err := guest.SendChat(ctx, "hf"); err != nil { t.Fatalf("chat: %v", err) }
    r := f.room(t, host.Code())
    if len(r.Messages) != 2 { t.Fatalf("expected 2 messages, got %d", len(r.Messages)) }
    if r.Messages[0].Text != "gg" || r.Messages[1].Text != "hf" {
        t.Fatalf("message order wrong: %+v", r.Messages)
    }
}

func TestMergeMessagesHealsLostAppend(t *testing.T) {
    ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
    a := session.Message{ID: "a", Seq: 1, Text: "first", Timestamp: ts}
    b := session.Message{ID: "b", Seq: 2, Text: "mine", Timestamp: ts.Add(time.Second)}
    c := session.Message{ID: "c", Seq: 2, Text: "theirs", Timestamp: ts.Add(2 * time.Second)}

    // both peers appended seq 2 from the same stale snapshot; the
    // remote write won and dropped ours
    local := []session.Message{a, b}
    remote := []session.Message{a, c}
    out := mergeMessages(local, remote)
    if len(out) != 3 { t.Fatalf("lost append not healed: %+v", out) }
    if out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
        t.Fatalf("merge order wrong: %+v", out)
    }

    // merging again changes nothing
    again := mergeMessages(out, remote)
    if len(again) != 3 { t.Fatalf("merge not idempotent: %+v", again) }
}
