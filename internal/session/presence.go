package session

import "time"

// Timing thresholds. All of them are measured on the observer's local
// clock against timestamps embedded in the room record.
const (
    // TurnLimit is the per-move clock; expiry triggers an auto-move.
    TurnLimit = 30 * time.Second
    // StaleAfter is the heartbeat gap after which a peer counts as
    // disconnected.
    StaleAfter = 20 * time.Second
    // RecoverWindow bounds how old a heartbeat may be to count as a
    // resume while paused.
    RecoverWindow = 15 * time.Second
    // ForfeitAfter is the grace period after pause detection before
    // the present side wins automatically.
    ForfeitAfter = 60 * time.Second
)

// PresenceEvent is a due presence transition derived from a snapshot.
type PresenceEvent string

const (
    PeerStale      PresenceEvent = "peer_stale"
    PeerRecovered  PresenceEvent = "peer_recovered"
    ForfeitElapsed PresenceEvent = "forfeit_elapsed"
)

// Scan inspects a room snapshot from one participant's point of view
// and reports the presence transition that is due, if any. It is a
// pure function consumed by the coordinator's tick; the observer only
// ever reports about its peer, never about itself.
func Scan(r Room, now time.Time, self Role) (PresenceEvent, bool) {
    peer := Opponent(self)
    switch r.Status {
    case StatusPlaying:
        if r.GuestID == "" { return "", false }
        last := r.LastActive(peer)
        if last.IsZero() { return "", false }
        if now.Sub(last) >= StaleAfter { return PeerStale, true }
    case StatusPaused:
        if r.DisconnectedPlayer != peer { return "", false }
        if now.Sub(r.LastActive(peer)) < RecoverWindow { return PeerRecovered, true }
        if now.Sub(r.DisconnectedAt) >= ForfeitAfter { return ForfeitElapsed, true }
    }
    return "", false
}
