package session

import (
    "testing"
    "time"
)

func presenceRoom(status Status) Room {
    return Room{
        Code:            "12345",
        HostID:          "h1",
        GuestID:         "g1",
        Status:          status,
        HostLastActive:  t0,
        GuestLastActive: t0,
    }
}

func TestScanDetectsStalePeer(t *testing.T) {
    r := presenceRoom(StatusPlaying)

    if ev, ok := Scan(r, t0.Add(19*time.Second), RoleHost); ok {
        t.Fatalf("peer still fresh, got %s", ev)
    }
    ev, ok := Scan(r, t0.Add(20*time.Second), RoleHost)
    if !ok || ev != PeerStale { t.Fatalf("expected peer_stale, got %s ok=%v", ev, ok) }
}

func TestScanNeverReportsSelf(t *testing.T) {
    r := presenceRoom(StatusPlaying)
    r.HostLastActive = t0.Add(-time.Minute) // 자기 자신이 오래됐어도 보고하지 않는다
    r.GuestLastActive = t0
    if ev, ok := Scan(r, t0.Add(5*time.Second), RoleHost); ok {
        t.Fatalf("observer reported itself: %s", ev)
    }
}

func TestScanIgnoresEmptyRoomAndZeroBeat(t *testing.T) {
    r := presenceRoom(StatusPlaying)
    r.GuestID = ""
    if _, ok := Scan(r, t0.Add(time.Hour), RoleHost); ok {
        t.Fatalf("no guest, nothing to report")
    }
    r = presenceRoom(StatusPlaying)
    r.GuestLastActive = time.Time{}
    if _, ok := Scan(r, t0.Add(time.Hour), RoleHost); ok {
        t.Fatalf("zero heartbeat must not count as stale")
    }
}

func TestScanPausedRecover(t *testing.T) {
    r := presenceRoom(StatusPaused)
    r.DisconnectedPlayer = RoleGuest
    r.DisconnectedAt = t0

    // guest heartbeat refreshed 5s ago: resume
    r.GuestLastActive = t0.Add(20 * time.Second)
    ev, ok := Scan(r, t0.Add(25*time.Second), RoleHost)
    if !ok || ev != PeerRecovered { t.Fatalf("expected peer_recovered, got %s ok=%v", ev, ok) }

    // the guest never reports about itself while paused
    if _, ok := Scan(r, t0.Add(25*time.Second), RoleGuest); ok {
        t.Fatalf("disconnected side reported its own state")
    }
}

func TestScanPausedForfeit(t *testing.T) {
    r := presenceRoom(StatusPaused)
    r.DisconnectedPlayer = RoleGuest
    r.DisconnectedAt = t0
    r.GuestLastActive = t0.Add(-time.Minute)

    if _, ok := Scan(r, t0.Add(59*time.Second), RoleHost); ok {
        t.Fatalf("forfeit before the window closed")
    }
    ev, ok := Scan(r, t0.Add(60*time.Second), RoleHost)
    if !ok || ev != ForfeitElapsed { t.Fatalf("expected forfeit_elapsed, got %s ok=%v", ev, ok) }
}
