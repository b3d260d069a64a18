package roomstore

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/redis/go-redis/v9"

    "github.com/park285/cheese-arena/internal/session"
)

func newTestStore(t *testing.T) *RedisStore {
    t.Helper()
    mr, err := miniredis.Run()
    if err != nil { t.Fatalf("miniredis: %v", err) }
    t.Cleanup(mr.Close)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })
    return NewRedisStoreFromClient(rdb, time.Hour)
}

func testRoom(code string) *session.Room {
    return &session.Room{
        Code:   code,
        HostID: "h1",
        Status: session.StatusWaiting,
    }
}

func TestCreateGetPutDelete(t *testing.T) {
    st := newTestStore(t)
    ctx := context.Background()

    got, err := st.Get(ctx, "12345")
    if err != nil { t.Fatalf("get empty: %v", err) }
    if got != nil { t.Fatalf("expected nil for absent room, got %+v", got) }

    r := testRoom("12345")
    if err := st.Create(ctx, r); err != nil { t.Fatalf("create: %v", err) }
    if err := st.Create(ctx, r); !errors.Is(err, ErrExists) {
        t.Fatalf("expected ErrExists, got %v", err)
    }

    got, err = st.Get(ctx, "12345")
    if err != nil { t.Fatalf("get: %v", err) }
    if got == nil || got.HostID != "h1" || got.Status != session.StatusWaiting {
        t.Fatalf("round trip mismatch: %+v", got)
    }

    // unconditional replace: the newer snapshot simply wins
    r.Status = session.StatusPlaying
    r.GuestID = "g1"
    if err := st.Put(ctx, r); err != nil { t.Fatalf("put: %v", err) }
    got, _ = st.Get(ctx, "12345")
    if got.Status != session.StatusPlaying || got.GuestID != "g1" {
        t.Fatalf("put did not replace: %+v", got)
    }

    if err := st.Delete(ctx, "12345"); err != nil { t.Fatalf("delete: %v", err) }
    got, err = st.Get(ctx, "12345")
    if err != nil || got != nil { t.Fatalf("room survived delete: %+v err=%v", got, err) }
}

func TestWatchDeliversSnapshots(t *testing.T) {
    st := newTestStore(t)
    ctx := context.Background()

    r := testRoom("55555")
    if err := st.Create(ctx, r); err != nil { t.Fatalf("create: %v", err) }

    updates := make(chan *session.Room, 16)
    cancel, err := st.Watch(ctx, "55555", func(room *session.Room) { updates <- room })
    if err != nil { t.Fatalf("watch: %v", err) }
    defer cancel()

    // the current value arrives first even without a new write
    first := recvRoom(t, updates)
    if first == nil || first.Code != "55555" { t.Fatalf("missing initial snapshot: %+v", first) }

    r.Status = session.StatusReady
    if err := st.Put(ctx, r); err != nil { t.Fatalf("put: %v", err) }
    next := recvRoom(t, updates)
    if next == nil || next.Status != session.StatusReady {
        t.Fatalf("update not delivered: %+v", next)
    }

    if err := st.Delete(ctx, "55555"); err != nil { t.Fatalf("delete: %v", err) }
    if gone := recvRoom(t, updates); gone != nil {
        t.Fatalf("delete should deliver nil, got %+v", gone)
    }
}

func recvRoom(t *testing.T, ch chan *session.Room) *session.Room {
    t.Helper()
    select {
    case r := <-ch:
        return r
    case <-time.After(3 * time.Second):
        t.Fatalf("no snapshot within deadline")
        return nil
    }
}

func TestWatchCancelConcurrent(t *testing.T) {
    st := newTestStore(t)
    ctx := context.Background()
    if err := st.Create(ctx, testRoom("77777")); err != nil { t.Fatalf("create: %v", err) }

    cancel, err := st.Watch(ctx, "77777", func(*session.Room) {})
    if err != nil { t.Fatalf("watch: %v", err) }

    var wg sync.WaitGroup
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            cancel()
        }()
    }
    wg.Wait()

    // the room is still writable after teardown
    r := testRoom("77777")
    r.Status = session.StatusReady
    if err := st.Put(ctx, r); err != nil { t.Fatalf("put after cancel: %v", err) }
}

func TestListOpenFiltersLobby(t *testing.T) {
    st := newTestStore(t)
    ctx := context.Background()

    open := testRoom("11111")
    if err := st.Create(ctx, open); err != nil { t.Fatalf("create open: %v", err) }

    private := testRoom("22222")
    private.IsPrivate = true
    if err := st.Create(ctx, private); err != nil { t.Fatalf("create private: %v", err) }

    taken := testRoom("33333")
    if err := st.Create(ctx, taken); err != nil { t.Fatalf("create taken: %v", err) }
    taken.GuestID = "g1"
    if err := st.Put(ctx, taken); err != nil { t.Fatalf("put taken: %v", err) }

    rooms, err := st.ListOpen(ctx)
    if err != nil { t.Fatalf("list: %v", err) }
    if len(rooms) != 1 || rooms[0].Code != "11111" {
        t.Fatalf("lobby filter wrong: %+v", rooms)
    }
}

func TestCodeGen(t *testing.T) {
    seen := map[string]bool{}
    for i := 0; i < 50; i++ {
        code, err := CodeGen()
        if err != nil { t.Fatalf("codegen: %v", err) }
        if len(code) != 5 { t.Fatalf("code length: %q", code) }
        for _, c := range code {
            if c < '0' || c > '9' { t.Fatalf("non-digit code: %q", code) }
        }
        seen[code] = true
    }
    if len(seen) < 2 { t.Fatalf("code generator looks constant") }
}
