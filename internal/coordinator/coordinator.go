package coordinator

import (
    "context"
    "errors"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/park285/cheese-arena/internal/account"
    "github.com/park285/cheese-arena/internal/clock"
    "github.com/park285/cheese-arena/internal/obslog"
    "github.com/park285/cheese-arena/internal/roomstore"
    "github.com/park285/cheese-arena/internal/rules"
    "github.com/park285/cheese-arena/internal/session"
)

var (
    ErrRoomNotFound = errf("room not found")
    ErrRoomFull     = errf("room is full")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

const (
    tickEvery      = time.Second
    heartbeatEvery = 3 * time.Second
    storeTimeout   = 2 * time.Second
)

// Deps are the collaborators one coordinator instance runs on.
type Deps struct {
    Store    roomstore.Store
    Oracle   rules.Oracle
    Clock    clock.Clock
    Accounts account.Store
    // OnUpdate publishes every locally observed room snapshot for the
    // rendering layer. Called from the coordinator's goroutines.
    OnUpdate func(session.Room)
}

// Coordinator drives one participant's side of a match. Both peers run
// an identical instance against the same room record; there is no
// leader. All time-based transitions are driven by the periodic tick,
// every write re-reads the latest snapshot immediately before the
// replace, and every auto transition is safe to lose a last-writer-wins
// race by construction of the machine guards.
type Coordinator struct {
    deps    Deps
    machine *session.Machine

    code     string
    self     session.Role
    selfID   string
    selfName string

    mu             sync.Mutex
    room           session.Room
    haveRoom       bool
    everHadGuest   bool
    lastAutoFire   time.Time
    resultRecorded bool

    unwatch  func()
    stopCh   chan struct{}
    stopOnce sync.Once
    wg       sync.WaitGroup
}

// Host creates a new room and runs its hosting coordinator.
func Host(ctx context.Context, deps Deps, selfID, nickname string, isPrivate bool) (*Coordinator, error) {
    c := newCoordinator(deps, session.RoleHost, selfID, nickname)
    now := deps.Clock.Now()
    var created *session.Room
    for i := 0; i < 5; i++ {
        code, err := roomstore.CodeGen()
        if err != nil { return nil, err }
        r := &session.Room{
            Code:           code,
            HostID:         selfID,
            HostNickname:   nickname,
            HostRecord:     c.snapshotRecord(ctx, selfID),
            Status:         session.StatusWaiting,
            Position:       deps.Oracle.Initial(),
            HostLastActive: now,
            IsPrivate:      isPrivate,
            CreatedAt:      now,
        }
        sctx, cancel := context.WithTimeout(ctx, storeTimeout)
        err = deps.Store.Create(sctx, r)
        cancel()
        if errors.Is(err, roomstore.ErrExists) { continue }
        if err != nil { return nil, err }
        created = r
        break
    }
    if created == nil { return nil, errf("failed to allocate room code") }
    c.code = created.Code
    c.setRoom(*created)
    if err := c.start(ctx); err != nil { return nil, err }
    obslog.L().Info("room_create",
        zap.String("code", c.code),
        zap.String("host_id", selfID),
        zap.Bool("private", isPrivate),
    )
    return c, nil
}

// Join attaches to an existing room as the guest.
func Join(ctx context.Context, deps Deps, code, selfID, nickname string) (*Coordinator, error) {
    code = strings.TrimSpace(code)
    c := newCoordinator(deps, session.RoleGuest, selfID, nickname)
    c.code = code
    sctx, cancel := context.WithTimeout(ctx, storeTimeout)
    cur, err := deps.Store.Get(sctx, code)
    cancel()
    if err != nil { return nil, err }
    if cur == nil { return nil, ErrRoomNotFound }
    ev := session.Event{
        Type:      session.EventJoin,
        Actor:     session.RoleGuest,
        ActorID:   selfID,
        ActorName: nickname,
        Record:    c.snapshotRecord(ctx, selfID),
    }
    next, err := c.machine.Apply(*cur, ev, deps.Clock.Now())
    switch {
    case errors.Is(err, session.ErrRoomFull):
        return nil, ErrRoomFull
    case errors.Is(err, session.ErrRejected):
        // 재접속 등: 쓰기 없이 구독만 붙인다
        c.setRoom(*cur)
    case err != nil:
        return nil, err
    default:
        sctx, cancel := context.WithTimeout(ctx, storeTimeout)
        err = deps.Store.Put(sctx, &next)
        cancel()
        if err != nil { return nil, err }
        c.setRoom(next)
    }
    if err := c.start(ctx); err != nil { return nil, err }
    obslog.L().Info("room_join", zap.String("code", code), zap.String("guest_id", selfID))
    return c, nil
}

func newCoordinator(deps Deps, self session.Role, selfID, nickname string) *Coordinator {
    return &Coordinator{
        deps:     deps,
        machine:  session.NewMachine(deps.Oracle),
        self:     self,
        selfID:   selfID,
        selfName: nickname,
        stopCh:   make(chan struct{}),
    }
}

func (c *Coordinator) start(ctx context.Context) error {
    unwatch, err := c.deps.Store.Watch(ctx, c.code, c.onRemote)
    if err != nil { return err }
    c.unwatch = unwatch
    c.wg.Add(1)
    go c.run()
    return nil
}

// Code returns the room code this coordinator is bound to.
func (c *Coordinator) Code() string { return c.code }

// Role returns this participant's slot.
func (c *Coordinator) Role() session.Role { return c.self }

// State returns the locally mirrored room snapshot.
func (c *Coordinator) State() session.Room {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.room.Clone()
}

// ---- UI intents -------------------------------------------------------

func (c *Coordinator) DeclareReady(ctx context.Context) error {
    return c.dispatch(ctx, session.Event{Type: session.EventReady, Actor: c.self})
}

func (c *Coordinator) StartGame(ctx context.Context) error {
    return c.dispatch(ctx, session.Event{Type: session.EventStart, Actor: c.self})
}

func (c *Coordinator) AttemptMove(ctx context.Context, from, to string) error {
    return c.dispatch(ctx, session.Event{Type: session.EventMove, Actor: c.self, From: from, To: to})
}

func (c *Coordinator) Resign(ctx context.Context) error {
    return c.dispatch(ctx, session.Event{Type: session.EventResign, Actor: c.self})
}

func (c *Coordinator) Rematch(ctx context.Context) error {
    return c.dispatch(ctx, session.Event{Type: session.EventRematch, Actor: c.self})
}

func (c *Coordinator) SendChat(ctx context.Context, text string) error {
    return c.dispatch(ctx, session.Event{
        Type:  session.EventChat,
        Actor: c.self,
        MsgID: uuid.NewString(),
        Text:  text,
    })
}

// LegalDestinations lists the squares a piece on from may move to, for
// move-candidate highlighting. Read-only, no write.
func (c *Coordinator) LegalDestinations(from string) ([]string, error) {
    c.mu.Lock()
    r := c.room.Clone()
    c.mu.Unlock()
    if r.Status != session.StatusPlaying { return nil, nil }
    if r.ColorOf(c.self) != r.CurrentTurn { return nil, nil }
    return c.deps.Oracle.LegalDestinations(r.Position, from)
}

// Leave resolves the room for this participant's departure and tears
// the coordinator down. A host leaving an empty waiting room deletes
// the record; leaving mid-game forfeits it.
func (c *Coordinator) Leave(ctx context.Context) error {
    c.mu.Lock()
    r := c.room.Clone()
    everHadGuest := c.everHadGuest
    c.mu.Unlock()

    var err error
    if c.self == session.RoleHost && r.GuestID == "" && !everHadGuest {
        sctx, cancel := context.WithTimeout(ctx, storeTimeout)
        err = c.deps.Store.Delete(sctx, c.code)
        cancel()
        obslog.L().Info("room_delete", zap.String("code", c.code), zap.Error(err))
    } else {
        err = c.dispatch(ctx, session.Event{Type: session.EventLeave, Actor: c.self})
        if errors.Is(err, session.ErrRejected) { err = nil }
    }
    c.Close()
    return err
}

// Close unsubscribes and stops the tick without touching the record.
func (c *Coordinator) Close() {
    c.stopOnce.Do(func() {
        close(c.stopCh)
        if c.unwatch != nil { c.unwatch() }
    })
    c.wg.Wait()
}

// ---- event plumbing ---------------------------------------------------

// dispatch runs one event through the machine against the freshest
// snapshot the store will give us, then replaces the record. The fresh
// read right before the replace is what keeps the lost-update window
// narrow; a transient store failure drops the event and the next tick
// re-derives it.
func (c *Coordinator) dispatch(ctx context.Context, ev session.Event) error {
    sctx, cancel := context.WithTimeout(ctx, storeTimeout)
    cur, err := c.deps.Store.Get(sctx, c.code)
    cancel()
    if err != nil {
        obslog.L().Warn("store_transient", zap.String("code", c.code), zap.String("event", string(ev.Type)), zap.Error(err))
        return err
    }
    if cur == nil { return ErrRoomNotFound }

    next, err := c.machine.Apply(*cur, ev, c.deps.Clock.Now())
    if err != nil {
        if errors.Is(err, session.ErrRejected) {
            obslog.L().Debug("event_rejected", zap.String("code", c.code), zap.String("event", string(ev.Type)), zap.Error(err))
        }
        // mirror may still be behind; adopt what we just read
        c.adopt(*cur)
        return err
    }

    sctx, cancel = context.WithTimeout(ctx, storeTimeout)
    err = c.deps.Store.Put(sctx, &next)
    cancel()
    if err != nil {
        obslog.L().Warn("store_transient", zap.String("code", c.code), zap.String("event", string(ev.Type)), zap.Error(err))
        return err
    }
    c.adopt(next)
    return nil
}

// onRemote handles one snapshot from the store's change feed. Remote
// echoes of our own writes arrive here too; both paths converge on
// adopt.
func (c *Coordinator) onRemote(r *session.Room) {
    if r == nil {
        // record deleted under us
        obslog.L().Info("room_gone", zap.String("code", c.code))
        c.publish(session.Room{Code: c.code, Status: session.StatusFinished})
        return
    }
    c.adopt(*r)
}

// adopt merges an observed snapshot into the local mirror and reacts
// to anything the new state makes due under the local clock.
func (c *Coordinator) adopt(r session.Room) {
    c.mu.Lock()
    merged := mergeMessages(c.room.Messages, r.Messages)
    r.Messages = merged
    c.room = r
    c.haveRoom = true
    if r.GuestID != "" { c.everHadGuest = true }
    // 새 게임이 시작되면 결과 기록 가드 해제
    if r.Winner == "" && r.Status == session.StatusPlaying { c.resultRecorded = false }
    recordDue := r.Winner != "" && !c.resultRecorded
    if recordDue { c.resultRecorded = true }
    c.mu.Unlock()

    if recordDue { c.recordResult(r) }
    c.publish(r)
}

func (c *Coordinator) publish(r session.Room) {
    if c.deps.OnUpdate != nil { c.deps.OnUpdate(r) }
}

// run is the single periodic driver of time-based transitions. The
// turn clock is scanned every second, heartbeats and presence every
// three; the coordinator never blocks waiting on the store.
func (c *Coordinator) run() {
    defer c.wg.Done()
    ticker := time.NewTicker(tickEvery)
    defer ticker.Stop()
    beats := 0
    for {
        select {
        case <-c.stopCh:
            return
        case <-ticker.C:
            c.scanTurnClock()
            beats++
            if beats >= int(heartbeatEvery/tickEvery) {
                beats = 0
                c.emitHeartbeat()
                c.scanPresence()
            }
        }
    }
}

// scanTurnClock issues the timeout auto-move when our own turn clock
// has run out. Only the side to move fires it, and only once per
// TurnStartTime value: if the write loses a race the next tick
// re-derives it from whatever snapshot won.
func (c *Coordinator) scanTurnClock() {
    c.mu.Lock()
    r := c.room
    have := c.haveRoom
    fired := c.lastAutoFire
    c.mu.Unlock()
    if !have || r.Status != session.StatusPlaying { return }
    if r.ColorOf(c.self) != r.CurrentTurn { return }
    now := c.deps.Clock.Now()
    if now.Sub(r.TurnStartTime) < session.TurnLimit { return }
    if fired.Equal(r.TurnStartTime) { return }

    c.mu.Lock()
    c.lastAutoFire = r.TurnStartTime
    c.mu.Unlock()
    err := c.dispatch(context.Background(), session.Event{
        Type:      session.EventTurnTimeout,
        Actor:     c.self,
        TurnStart: r.TurnStartTime,
    })
    if err != nil && !errors.Is(err, session.ErrRejected) {
        // transient failure: allow a retry on the next tick
        c.mu.Lock()
        if c.lastAutoFire.Equal(r.TurnStartTime) { c.lastAutoFire = time.Time{} }
        c.mu.Unlock()
        return
    }
    if err == nil {
        obslog.L().Info("turn_timeout_automove",
            zap.String("code", c.code),
            zap.String("side", string(r.CurrentTurn)),
        )
    }
}

func (c *Coordinator) emitHeartbeat() {
    err := c.dispatch(context.Background(), session.Event{Type: session.EventHeartbeat, Actor: c.self})
    if err != nil && !errors.Is(err, session.ErrRejected) && !errors.Is(err, ErrRoomNotFound) {
        obslog.L().Debug("heartbeat_skip", zap.String("code", c.code), zap.Error(err))
    }
}

// scanPresence feeds the presence monitor's verdict into the machine.
// Both peers may detect the same condition near-simultaneously; the
// transitions are convergent so the replace race is benign.
func (c *Coordinator) scanPresence() {
    c.mu.Lock()
    r := c.room
    have := c.haveRoom
    c.mu.Unlock()
    if !have { return }
    pe, ok := session.Scan(r, c.deps.Clock.Now(), c.self)
    if !ok { return }
    var ev session.Event
    switch pe {
    case session.PeerStale:
        ev = session.Event{Type: session.EventPeerStale, Actor: c.self}
    case session.PeerRecovered:
        ev = session.Event{Type: session.EventPeerRecover, Actor: c.self}
    case session.ForfeitElapsed:
        ev = session.Event{Type: session.EventForfeit, Actor: c.self}
    default:
        return
    }
    if err := c.dispatch(context.Background(), ev); err == nil {
        obslog.L().Info("presence_transition",
            zap.String("code", c.code),
            zap.String("event", string(pe)),
            zap.String("observer", string(c.self)),
        )
    }
}

// recordResult counts the finished game into this participant's own
// account. Each side records only itself, so the two peers never race
// on one row, and the resultRecorded guard makes it once per game.
func (c *Coordinator) recordResult(r session.Room) {
    if c.deps.Accounts == nil { return }
    var res account.Result
    switch {
    case r.Winner == session.WinnerDraw:
        res = account.ResultDraw
    case r.Winner == session.WinnerHost && c.self == session.RoleHost,
        r.Winner == session.WinnerGuest && c.self == session.RoleGuest:
        res = account.ResultWin
    default:
        res = account.ResultLoss
    }
    ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
    defer cancel()
    if err := c.deps.Accounts.ApplyResult(ctx, c.selfID, c.selfName, res); err != nil {
        obslog.L().Error("account_result_error", zap.String("code", c.code), zap.Error(err))
        return
    }
    obslog.L().Info("account_result",
        zap.String("code", c.code),
        zap.String("account_id", c.selfID),
        zap.String("result", string(res)),
    )
}

func (c *Coordinator) snapshotRecord(ctx context.Context, id string) *session.RecordSnapshot {
    if c.deps.Accounts == nil { return nil }
    sctx, cancel := context.WithTimeout(ctx, storeTimeout)
    defer cancel()
    a, err := c.deps.Accounts.Get(sctx, id)
    if err != nil || a == nil { return nil }
    return &session.RecordSnapshot{Wins: a.Wins, Losses: a.Losses, Draws: a.Draws}
}

func (c *Coordinator) setRoom(r session.Room) {
    c.mu.Lock()
    c.room = r
    c.haveRoom = true
    if r.GuestID != "" { c.everHadGuest = true }
    c.mu.Unlock()
    c.publish(r)
}

// mergeMessages unions two chat logs by message id. Concurrent appends
// computed from the same stale snapshot can drop one entry under
// last-writer-wins; keeping the union on every read heals the local
// view and re-publishes the lost entry on our next write.
func mergeMessages(local, remote []session.Message) []session.Message {
    if len(local) == 0 { return remote }
    seen := make(map[string]bool, len(remote))
    out := append([]session.Message(nil), remote...)
    for _, m := range remote { seen[m.ID] = true }
    for _, m := range local {
        if !seen[m.ID] { out = append(out, m) }
    }
    sort.SliceStable(out, func(i, j int) bool {
        if out[i].Seq != out[j].Seq { return out[i].Seq < out[j].Seq }
        return out[i].Timestamp.Before(out[j].Timestamp)
    })
    return out
}
