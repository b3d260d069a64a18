package session

import (
    "time"

    "github.com/park285/cheese-arena/internal/rules"
)

// Role identifies a participant slot in a room.
type Role string

const (
    RoleHost  Role = "host"
    RoleGuest Role = "guest"
)

// Color identifies a chess side.
type Color string

const (
    White Color = "white"
    Black Color = "black"
)

// Status is the room lifecycle state. Exactly one holds at any time.
type Status string

const (
    StatusWaiting  Status = "waiting"
    StatusReady    Status = "ready"
    StatusPlaying  Status = "playing"
    StatusPaused   Status = "paused"
    StatusFinished Status = "finished"
)

// Winner is the game result slot. Empty means no result yet.
type Winner string

const (
    WinnerHost  Winner = "host"
    WinnerGuest Winner = "guest"
    WinnerDraw  Winner = "draw"
)

// RecordSnapshot is a display-only win/loss snapshot taken at join.
type RecordSnapshot struct {
    Wins   int `json:"wins"`
    Losses int `json:"losses"`
    Draws  int `json:"draws"`
}

// MovePair is the last committed move, display-only.
type MovePair struct {
    From string `json:"from"`
    To   string `json:"to"`
}

// Message is one chat entry. Seq is a per-room monotonic counter used
// to merge concurrent appends computed from stale snapshots.
type Message struct {
    ID         string    `json:"id"`
    Seq        int       `json:"seq"`
    SenderID   string    `json:"sender_id"`
    SenderName string    `json:"sender_name"`
    Text       string    `json:"text"`
    Timestamp  time.Time `json:"timestamp"`
}

// Room is the single shared record for one match. Both peers mutate it
// through whole-record replace; every field change goes through the
// state machine in machine.go.
type Room struct {
    Code          string          `json:"code"`
    HostID        string          `json:"host_id"`
    GuestID       string          `json:"guest_id,omitempty"`
    HostNickname  string          `json:"host_nickname,omitempty"`
    GuestNickname string          `json:"guest_nickname,omitempty"`
    HostRecord    *RecordSnapshot `json:"host_record,omitempty"`
    GuestRecord   *RecordSnapshot `json:"guest_record,omitempty"`

    Status     Status `json:"status"`
    GuestReady bool   `json:"guest_ready"`

    CurrentTurn   Color          `json:"current_turn,omitempty"`
    TurnStartTime time.Time      `json:"turn_start_time,omitempty"`
    Position      rules.Position `json:"position"`
    LastMove      *MovePair      `json:"last_move,omitempty"`

    Winner        Winner `json:"winner,omitempty"`
    PreviousLoser Role   `json:"previous_loser,omitempty"`

    HostLastActive     time.Time `json:"host_last_active,omitempty"`
    GuestLastActive    time.Time `json:"guest_last_active,omitempty"`
    DisconnectedPlayer Role      `json:"disconnected_player,omitempty"`
    DisconnectedAt     time.Time `json:"disconnected_at,omitempty"`

    IsPrivate bool      `json:"is_private"`
    CreatedAt time.Time `json:"created_at"`

    Messages []Message `json:"messages,omitempty"`
}

// Opponent returns the other participant slot.
func Opponent(r Role) Role {
    if r == RoleHost { return RoleGuest }
    return RoleHost
}

// HostColor derives the host side for the current (or next) game:
// the loser of the previous game opens, draws keep the assignment.
func (r Room) HostColor() Color {
    if r.PreviousLoser == RoleGuest { return Black }
    return White
}

// ColorOf maps a participant slot to its side under HostColor.
func (r Room) ColorOf(role Role) Color {
    hc := r.HostColor()
    if role == RoleHost { return hc }
    if hc == White { return Black }
    return White
}

// RoleOf maps a side back to the participant slot holding it.
func (r Room) RoleOf(c Color) Role {
    if r.ColorOf(RoleHost) == c { return RoleHost }
    return RoleGuest
}

// LastActive returns the heartbeat timestamp owned by the given slot.
func (r Room) LastActive(role Role) time.Time {
    if role == RoleHost { return r.HostLastActive }
    return r.GuestLastActive
}

// NextSeq returns the next chat sequence number for the room.
func (r Room) NextSeq() int {
    max := 0
    for _, m := range r.Messages {
        if m.Seq > max { max = m.Seq }
    }
    return max + 1
}

// Clone deep-copies the slices so machine transitions never alias the
// caller's snapshot.
func (r Room) Clone() Room {
    out := r
    out.Position.MovesUCI = append([]string(nil), r.Position.MovesUCI...)
    out.Position.MovesSAN = append([]string(nil), r.Position.MovesSAN...)
    out.Messages = append([]Message(nil), r.Messages...)
    if r.LastMove != nil { lm := *r.LastMove; out.LastMove = &lm }
    if r.HostRecord != nil { hr := *r.HostRecord; out.HostRecord = &hr }
    if r.GuestRecord != nil { gr := *r.GuestRecord; out.GuestRecord = &gr }
    return out
}
