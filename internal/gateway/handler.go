package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Handler accepts WebSocket connections on the voice endpoint and runs one
// orchestrator per connection.
type Handler struct {
	cfg Config
}

// NewHandler creates the voice endpoint handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// Register mounts the voice endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+Voice, h.serve)
}

// serve upgrades the connection and pumps client frames into the
// orchestrator until the socket closes.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect from arbitrary app origins; auth happens
		// at the provider API key layer, not the socket.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	// Inbound audio is a continuous stream; the limit only needs to cover
	// one frame of it plus JSON control frames.
	conn.SetReadLimit(1 << 20)

	o := NewOrchestrator(h.cfg, wsConn{conn})
	defer o.Close()

	slog.Debug("voice connection opened", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				slog.Debug("voice connection closed", "remote", r.RemoteAddr)
			} else if ctx.Err() == nil {
				slog.Debug("voice connection dropped", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			o.HandleAudio(data)
		case websocket.MessageText:
			var frame ClientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				o.HandleMalformed()
				continue
			}
			if err := o.HandleControl(frame); err != nil {
				// Init failure is the one fatal control error.
				conn.Close(websocket.StatusInternalError, "initialization failed")
				return
			}
		}
	}
}

// wsConn adapts *websocket.Conn to the orchestrator's transport interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) WriteText(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c wsConn) WriteBinary(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

func (c wsConn) Close() error {
	return c.conn.Close(websocket.StatusGoingAway, "session closed")
}
