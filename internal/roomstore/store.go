package roomstore

import (
    "context"
    "crypto/rand"
    "fmt"

    "github.com/park285/cheese-arena/internal/session"
)

// Errors surfaced by store implementations. Absent keys are reported
// as (nil, nil) from Get; ErrExists only comes out of Create.
var (
    ErrExists = errf("room code already taken")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Store is the shared-record contract the coordinator is written
// against: point read, unconditional last-writer-wins replace, delete,
// and an at-least-once change feed of whole snapshots. No ordering
// guarantee across independent writers is assumed, and a writer gets
// no read-after-write guarantee from Watch.
type Store interface {
    // Get returns the room under code, or (nil, nil) when absent.
    Get(ctx context.Context, code string) (*session.Room, error)
    // Create stores a new room only if the code is free.
    Create(ctx context.Context, r *session.Room) error
    // Put replaces the room unconditionally.
    Put(ctx context.Context, r *session.Room) error
    // Delete removes the room and notifies watchers with a nil value.
    Delete(ctx context.Context, code string) error
    // Watch delivers the latest full snapshot at least once per actual
    // change until the returned cancel func runs. A nil snapshot means
    // the room was deleted.
    Watch(ctx context.Context, code string, fn func(*session.Room)) (cancel func(), err error)
    // ListOpen returns public rooms still waiting for a guest.
    ListOpen(ctx context.Context) ([]*session.Room, error)
}

// CodeGen returns a short human-shareable numeric room code.
func CodeGen() (string, error) {
    const digits = "0123456789"
    b := make([]byte, 5)
    if _, err := rand.Read(b); err != nil {
        return "", fmt.Errorf("room code: %w", err)
    }
    for i := range b {
        b[i] = digits[int(b[i])%len(digits)]
    }
    return string(b), nil
}
