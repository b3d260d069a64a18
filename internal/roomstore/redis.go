package roomstore

import (
    "context"
    "encoding/json"
    "net/url"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/park285/cheese-arena/internal/obslog"
    "github.com/park285/cheese-arena/internal/session"
)

const defaultRoomTTL = 24 * time.Hour

// RedisStore keeps each room as one JSON document and fans out changes
// over a per-room pub/sub channel. Replace is a plain SET: last writer
// wins, exactly the convergence model the session layer is built for.
type RedisStore struct {
    rdb *redis.Client
    ttl time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
    opts, err := parseRedisURL(redisURL)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opts)
    if err := rdb.Ping(context.Background()).Err(); err != nil {
        return nil, err
    }
    if ttl <= 0 { ttl = defaultRoomTTL }
    return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

// NewRedisStoreFromClient wires an existing client, used by tests.
func NewRedisStoreFromClient(rdb *redis.Client, ttl time.Duration) *RedisStore {
    if ttl <= 0 { ttl = defaultRoomTTL }
    return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Close() error {
    if s == nil || s.rdb == nil { return nil }
    return s.rdb.Close()
}

func (s *RedisStore) keyRoom(code string) string { return "arena:room:" + strings.TrimSpace(code) }
func (s *RedisStore) keyFeed(code string) string { return s.keyRoom(code) + ":events" }
func (s *RedisStore) keyLobby() string           { return "arena:lobby" }

func (s *RedisStore) Get(ctx context.Context, code string) (*session.Room, error) {
    raw, err := s.rdb.Get(ctx, s.keyRoom(code)).Bytes()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    var r session.Room
    if err := json.Unmarshal(raw, &r); err != nil { return nil, err }
    return &r, nil
}

func (s *RedisStore) Create(ctx context.Context, r *session.Room) error {
    raw, err := json.Marshal(r)
    if err != nil { return err }
    ok, err := s.rdb.SetNX(ctx, s.keyRoom(r.Code), raw, s.ttl).Result()
    if err != nil { return err }
    if !ok { return ErrExists }
    s.syncLobby(ctx, r)
    return s.publish(ctx, r.Code, raw)
}

func (s *RedisStore) Put(ctx context.Context, r *session.Room) error {
    raw, err := json.Marshal(r)
    if err != nil { return err }
    if err := s.rdb.Set(ctx, s.keyRoom(r.Code), raw, s.ttl).Err(); err != nil {
        return err
    }
    s.syncLobby(ctx, r)
    return s.publish(ctx, r.Code, raw)
}

func (s *RedisStore) Delete(ctx context.Context, code string) error {
    if err := s.rdb.Del(ctx, s.keyRoom(code)).Err(); err != nil { return err }
    _ = s.rdb.SRem(ctx, s.keyLobby(), code).Err()
    return s.publish(ctx, code, []byte("null"))
}

func (s *RedisStore) publish(ctx context.Context, code string, raw []byte) error {
    return s.rdb.Publish(ctx, s.keyFeed(code), raw).Err()
}

// Watch subscribes to the room's change feed. The current value is
// delivered first so a late subscriber still sees the room; delivery
// is at-least-once and carries whole snapshots only.
func (s *RedisStore) Watch(ctx context.Context, code string, fn func(*session.Room)) (func(), error) {
    sub := s.rdb.Subscribe(ctx, s.keyFeed(code))
    if _, err := sub.Receive(ctx); err != nil {
        _ = sub.Close()
        return nil, err
    }
    if cur, err := s.Get(ctx, code); err == nil && cur != nil {
        fn(cur)
    }
    done := make(chan struct{})
    go func() {
        ch := sub.Channel()
        for {
            select {
            case <-done:
                return
            case msg, ok := <-ch:
                if !ok { return }
                payload := strings.TrimSpace(msg.Payload)
                if payload == "" || payload == "null" {
                    fn(nil)
                    continue
                }
                var r session.Room
                if err := json.Unmarshal([]byte(payload), &r); err != nil {
                    obslog.L().Warn("room_feed_decode_error", zap.String("code", code), zap.Error(err))
                    continue
                }
                fn(&r)
            }
        }
    }()
    var once sync.Once
    cancel := func() {
        once.Do(func() {
            close(done)
            _ = sub.Close()
        })
    }
    return cancel, nil
}

func (s *RedisStore) ListOpen(ctx context.Context) ([]*session.Room, error) {
    codes, err := s.rdb.SMembers(ctx, s.keyLobby()).Result()
    if err != nil { return nil, err }
    var out []*session.Room
    for _, c := range codes {
        r, _ := s.Get(ctx, c)
        if r == nil { continue }
        if r.IsPrivate || r.Status != session.StatusWaiting || r.GuestID != "" { continue }
        out = append(out, r)
    }
    return out, nil
}

// syncLobby keeps the discovery index in step with the room's
// joinability. Best effort: a miss here only affects listings.
func (s *RedisStore) syncLobby(ctx context.Context, r *session.Room) {
    if r.IsPrivate { return }
    if r.Status == session.StatusWaiting && r.GuestID == "" {
        _ = s.rdb.SAdd(ctx, s.keyLobby(), r.Code).Err()
        _ = s.rdb.Expire(ctx, s.keyLobby(), s.ttl).Err()
        return
    }
    _ = s.rdb.SRem(ctx, s.keyLobby(), r.Code).Err()
}

func parseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(raw)
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" {
        return nil, errf("unsupported scheme: " + u.Scheme)
    }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" {
        if n, err := strconv.Atoi(p); err == nil { db = n }
    }
    pass, _ := u.User.Password()
    return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
