package account

import (
    "context"
    "sync"
    "time"
)

// Account carries the per-player result counters shown next to a
// nickname. The coordinator increments them exactly once per finished
// game on the side that observes the winner transition.
type Account struct {
    ID        string
    Nickname  string
    Wins      int
    Losses    int
    Draws     int
    UpdatedAt time.Time
}

// Result is one game outcome from a single account's point of view.
type Result string

const (
    ResultWin  Result = "win"
    ResultLoss Result = "loss"
    ResultDraw Result = "draw"
)

// Store is the account persistence contract.
type Store interface {
    // Get returns the account, or (nil, nil) when absent.
    Get(ctx context.Context, id string) (*Account, error)
    // Upsert writes the full account row.
    Upsert(ctx context.Context, a *Account) error
    // ApplyResult increments one counter, creating the row if needed.
    ApplyResult(ctx context.Context, id, nickname string, res Result) error
}

// MemStore is an in-process Store for tests and single-node runs.
type MemStore struct {
    mu       sync.RWMutex
    accounts map[string]Account
}

func NewMemStore() *MemStore {
    return &MemStore{accounts: make(map[string]Account)}
}

func (m *MemStore) Get(_ context.Context, id string) (*Account, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    a, ok := m.accounts[id]
    if !ok { return nil, nil }
    out := a
    return &out, nil
}

func (m *MemStore) Upsert(_ context.Context, a *Account) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    cp := *a
    cp.UpdatedAt = time.Now()
    m.accounts[a.ID] = cp
    return nil
}

func (m *MemStore) ApplyResult(_ context.Context, id, nickname string, res Result) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    a := m.accounts[id]
    a.ID = id
    if nickname != "" { a.Nickname = nickname }
    switch res {
    case ResultWin:
        a.Wins++
    case ResultLoss:
        a.Losses++
    case ResultDraw:
        a.Draws++
    }
    a.UpdatedAt = time.Now()
    m.accounts[id] = a
    return nil
}
