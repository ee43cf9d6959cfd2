package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rpcgate/rpcgate/internal/logging"
	"github.com/rpcgate/rpcgate/internal/modules"
	"github.com/rpcgate/rpcgate/internal/session"
	"github.com/rpcgate/rpcgate/internal/user"
	"github.com/rpcgate/rpcgate/internal/wswriter"
)

const (
	wsWriteLockTimeout = 5 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// wsConn is the persistent transport adapter: one websocket, many
// messages, and the only transport that receives emit notifications
// in practice.
type wsConn struct {
	*Conn

	ws    *websocket.Conn
	wlock chan struct{}

	closeOnce sync.Once
}

func newWSConn(m *modules.Compiled, registry *Registry, sessions session.Service, users *user.Service, ws *websocket.Conn, r *http.Request, maxPayload int64) *wsConn {
	w := &wsConn{
		ws:    ws,
		wlock: wswriter.NewLock(),
	}
	ws.SetReadLimit(maxPayload)
	w.Conn = newConn(m, registry, sessions, users, r)
	w.Conn.tr = w
	return w
}

func (w *wsConn) kind() modules.Transport {
	return modules.TransportWS
}

func (w *wsConn) alive() bool {
	select {
	case <-w.destroyed:
		return false
	default:
		return true
	}
}

// send writes one whole text frame under the exclusive write lock, so a
// reply and a concurrent emit never interleave on the wire.
func (w *wsConn) send(data []byte) error {
	writer := wswriter.Exclusive(w.ws, w.wlock, wsWriteLockTimeout, wsWriteTimeout)
	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Close()
}

func (w *wsConn) closeTransport() {
	w.closeOnce.Do(func() {
		w.ws.Close()
	})
}

// readPump is the per-connection read loop. Frames that arrive before
// initialise finishes are held at the gate, not dropped, so the first
// message still sees the restored identity. The pump owns teardown: any
// read error, including a peer close or an oversized frame, destroys
// the connection and closes the socket.
func (w *wsConn) readPump(ctx context.Context) {
	defer func() {
		w.destroy()
		w.closeTransport()
		logging.LogConnection(w.remoteAddr(), "closed")
	}()

	for {
		_, buf, err := w.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		select {
		case <-w.initialised:
		case <-w.destroyed:
			return
		}

		if err := w.message(ctx, buf); err != nil {
			logging.Error("websocket call failed", zap.Error(err))
		}
	}
}
