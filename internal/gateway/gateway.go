package gateway

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"
    "nhooyr.io/websocket"
    "nhooyr.io/websocket/wsjson"

    "github.com/park285/cheese-arena/internal/coordinator"
    "github.com/park285/cheese-arena/internal/msgcat"
    "github.com/park285/cheese-arena/internal/obslog"
    "github.com/park285/cheese-arena/internal/roomstore"
    "github.com/park285/cheese-arena/internal/session"
)

// Intent is one inbound frame from the rendering layer.
type Intent struct {
    Type string `json:"type"`
    From string `json:"from,omitempty"`
    To   string `json:"to,omitempty"`
    Text string `json:"text,omitempty"`
}

// Frame is one outbound message to the rendering layer.
type Frame struct {
    Type    string        `json:"type"`
    Room    *session.Room `json:"room,omitempty"`
    From    string        `json:"from,omitempty"`
    Squares []string      `json:"squares,omitempty"`
    Message string        `json:"message,omitempty"`
}

// Server binds one browser peer per websocket connection to its own
// coordinator instance. The gateway is glue only: every intent goes
// straight into the coordinator, every published snapshot goes straight
// back out.
type Server struct {
    deps  coordinator.Deps
    store roomstore.Store
    cat   *msgcat.Catalog
}

func NewServer(deps coordinator.Deps, store roomstore.Store, cat *msgcat.Catalog) *Server {
    return &Server{deps: deps, store: store, cat: cat}
}

func (s *Server) Routes() *http.ServeMux {
    mux := http.NewServeMux()
    mux.HandleFunc("/ws", s.handleWS)
    mux.HandleFunc("/rooms", s.handleRooms)
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    return mux
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
    defer cancel()
    rooms, err := s.store.ListOpen(ctx)
    if err != nil {
        http.Error(w, "store unavailable", http.StatusServiceUnavailable)
        return
    }
    type entry struct {
        Code     string `json:"code"`
        Nickname string `json:"host_nickname"`
        Created  string `json:"created_at"`
    }
    out := make([]entry, 0, len(rooms))
    for _, rm := range rooms {
        out = append(out, entry{Code: rm.Code, Nickname: rm.HostNickname, Created: rm.CreatedAt.Format(time.RFC3339)})
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
    q := r.URL.Query()
    action := strings.TrimSpace(q.Get("action"))
    code := strings.TrimSpace(q.Get("room"))
    id := strings.TrimSpace(q.Get("id"))
    nick := strings.TrimSpace(q.Get("nick"))
    if id == "" { id = uuid.NewString() }
    if nick == "" { nick = "player-" + id[:minInt(6, len(id))] }

    conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
        CompressionMode: websocket.CompressionNoContextTakeover,
    })
    if err != nil {
        obslog.L().Warn("ws_accept_error", zap.Error(err))
        return
    }
    defer conn.Close(websocket.StatusInternalError, "teardown")

    ctx := r.Context()
    var mu sync.Mutex
    send := func(f Frame) {
        mu.Lock()
        defer mu.Unlock()
        wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
        defer cancel()
        _ = wsjson.Write(wctx, conn, f)
    }

    deps := s.deps
    deps.OnUpdate = func(room session.Room) {
        send(Frame{Type: "state", Room: &room})
    }

    var coord *coordinator.Coordinator
    switch action {
    case "host":
        coord, err = coordinator.Host(ctx, deps, id, nick, q.Get("private") == "true")
    case "join":
        coord, err = coordinator.Join(ctx, deps, code, id, nick)
    default:
        send(Frame{Type: "error", Message: "unknown action"})
        conn.Close(websocket.StatusPolicyViolation, "unknown action")
        return
    }
    if err != nil {
        send(Frame{Type: "error", Message: s.userError(err)})
        conn.Close(websocket.StatusNormalClosure, "setup failed")
        return
    }
    defer func() {
        // 접속 종료 = 이탈. 빈 대기방이면 삭제, 대국 중이면 몰수.
        lctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        _ = coord.Leave(lctx)
        cancel()
    }()

    obslog.L().Info("ws_session_open",
        zap.String("code", coord.Code()),
        zap.String("role", string(coord.Role())),
        zap.String("id", id),
    )

    for {
        var in Intent
        if err := wsjson.Read(ctx, conn, &in); err != nil {
            return
        }
        s.handleIntent(ctx, coord, &in, send)
    }
}

func (s *Server) handleIntent(ctx context.Context, coord *coordinator.Coordinator, in *Intent, send func(Frame)) {
    var err error
    switch in.Type {
    case "ready":
        err = coord.DeclareReady(ctx)
    case "start":
        err = coord.StartGame(ctx)
    case "move":
        err = coord.AttemptMove(ctx, in.From, in.To)
    case "hints":
        squares, herr := coord.LegalDestinations(in.From)
        if herr == nil {
            send(Frame{Type: "hints", From: in.From, Squares: squares})
        }
        return
    case "resign":
        err = coord.Resign(ctx)
    case "rematch":
        err = coord.Rematch(ctx)
    case "chat":
        err = coord.SendChat(ctx, in.Text)
    case "leave":
        err = coord.Leave(ctx)
    default:
        send(Frame{Type: "error", Message: "unknown intent: " + in.Type})
        return
    }
    if err != nil && !errors.Is(err, session.ErrRejected) {
        send(Frame{Type: "error", Message: s.userError(err)})
    }
}

// userError maps internal errors onto catalog strings; raw error text
// never reaches the UI.
func (s *Server) userError(err error) string {
    switch {
    case errors.Is(err, coordinator.ErrRoomNotFound):
        return s.cat.MustRender("room.not_found", nil, "room not found")
    case errors.Is(err, coordinator.ErrRoomFull):
        return s.cat.MustRender("room.full", nil, "room is full")
    default:
        return s.cat.MustRender("game.illegal_move", nil, "request failed")
    }
}

func minInt(a, b int) int {
    if a < b { return a }
    return b
}
