package http

import (
	"net"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// WSHandler upgrades HTTP connections and runs the line protocol over them.
// The socket carries the same newline-delimited text stream as TCP; frame
// boundaries carry no meaning.
type WSHandler struct {
	sessions       ConnHandler
	maxLineBytes   int
	originPatterns []string
	log            *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. Browser upgrades are accepted
// from the serving host and from hosts matching originPatterns; clients that
// send no Origin header are always accepted.
func NewWSHandler(sessions ConnHandler, maxLineBytes int, originPatterns []string, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		sessions:       sessions,
		maxLineBytes:   maxLineBytes,
		originPatterns: originPatterns,
		log:            logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("ws accept error")
		return
	}
	if h.maxLineBytes > 0 {
		conn.SetReadLimit(int64(h.maxLineBytes) + 1)
	}

	ctx := r.Context()
	nc := websocket.NetConn(ctx, conn, websocket.MessageText)
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("ws connection accepted")

	// Serve closes nc, which sends the close frame.
	h.sessions.Serve(ctx, &wsConn{Conn: nc, remote: wsAddr(r.RemoteAddr)})
}

// wsConn reports the HTTP peer as the remote address.
type wsConn struct {
	net.Conn
	remote net.Addr
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.remote
}

type wsAddr string

func (a wsAddr) Network() string { return "websocket" }
func (a wsAddr) String() string  { return string(a) }
