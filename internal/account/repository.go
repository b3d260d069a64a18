package account

import (
    "context"
    "database/sql"
    "fmt"
    "strings"
    "time"

    _ "github.com/lib/pq"
)

// Repository is the postgres Store.
type Repository struct {
    db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(16)
    db.SetMaxIdleConns(8)
    db.SetConnMaxLifetime(30 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        return nil, err
    }
    return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

func (r *Repository) Get(ctx context.Context, id string) (*Account, error) {
    const q = `
        SELECT account_id, nickname, wins, losses, draws, updated_at
        FROM arena_accounts
        WHERE account_id = $1`
    row := r.db.QueryRowContext(ctx, q, id)
    var a Account
    if err := row.Scan(&a.ID, &a.Nickname, &a.Wins, &a.Losses, &a.Draws, &a.UpdatedAt); err != nil {
        if err == sql.ErrNoRows { return nil, nil }
        return nil, fmt.Errorf("account get: %w", err)
    }
    return &a, nil
}

func (r *Repository) Upsert(ctx context.Context, a *Account) error {
    if a == nil {
        return fmt.Errorf("nil account payload")
    }
    const q = `
        INSERT INTO arena_accounts (account_id, nickname, wins, losses, draws, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (account_id) DO UPDATE SET
          nickname = EXCLUDED.nickname,
          wins = EXCLUDED.wins,
          losses = EXCLUDED.losses,
          draws = EXCLUDED.draws,
          updated_at = NOW()`
    _, err := r.db.ExecContext(ctx, q, a.ID, a.Nickname, a.Wins, a.Losses, a.Draws)
    if err != nil {
        return fmt.Errorf("account upsert: %w", err)
    }
    return nil
}

// ApplyResult bumps one counter in-place so two finished games landing
// close together never clobber each other's increments.
func (r *Repository) ApplyResult(ctx context.Context, id, nickname string, res Result) error {
    col := ""
    switch res {
    case ResultWin:
        col = "wins"
    case ResultLoss:
        col = "losses"
    case ResultDraw:
        col = "draws"
    default:
        return fmt.Errorf("unknown result %q", res)
    }
    w, l, d := 0, 0, 0
    switch res {
    case ResultWin:
        w = 1
    case ResultLoss:
        l = 1
    case ResultDraw:
        d = 1
    }
    q := fmt.Sprintf(`
        INSERT INTO arena_accounts (account_id, nickname, wins, losses, draws, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (account_id) DO UPDATE SET
          %s = arena_accounts.%s + 1,
          nickname = CASE WHEN EXCLUDED.nickname <> '' THEN EXCLUDED.nickname ELSE arena_accounts.nickname END,
          updated_at = NOW()`, col, col)
    _, err := r.db.ExecContext(ctx, q, id, nickname, w, l, d)
    if err != nil {
        return fmt.Errorf("account result: %w", err)
    }
    return nil
}
