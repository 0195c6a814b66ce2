// Package session runs the per-connection protocol state machine: an
// unauthenticated handshake (LOGIN or REGISTER) followed by the command loop
// of a logged-in user.
package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/attachments"
	"github.com/vovakirdan/linechat-server/internal/auth"
	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/history"
	"github.com/vovakirdan/linechat-server/internal/metrics"
	"github.com/vovakirdan/linechat-server/internal/proto"
	"github.com/vovakirdan/linechat-server/internal/utils"
)

// DefaultMaxLineBytes bounds a single protocol line, file payloads included.
const DefaultMaxLineBytes = 16 << 20

// finishTimeout bounds how long a leaving client gets to read its last replies.
const finishTimeout = 5 * time.Second

// Config tunes connection handling.
type Config struct {
	IdleTimeout    time.Duration // 0 disables the read deadline
	MaxLineBytes   int
	OutboundBuffer int
	RateBurst      int // 0 disables rate limiting
	RateInterval   time.Duration
	Location       *time.Location // history timestamps; nil means UTC
}

// Deps are the services a handler routes commands to.
type Deps struct {
	Auth        *auth.Service
	History     *history.Service
	Attachments *attachments.Service
	Registry    *core.Registry
}

// Handler serves protocol connections. One Handler is shared by all connections.
type Handler struct {
	deps   Deps
	cfg    Config
	format history.Formatter
	log    *zerolog.Logger
	now    func() time.Time
}

// NewHandler builds a handler.
func NewHandler(deps Deps, cfg Config, logger *zerolog.Logger) *Handler {
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = core.DefaultOutboundBuffer
	}
	l := logger.With().Str("component", "session").Logger()
	return &Handler{
		deps:   deps,
		cfg:    cfg,
		format: history.Formatter{Location: cfg.Location},
		log:    &l,
		now:    time.Now,
	}
}

// Serve runs the protocol on conn until logout, disconnect, or ctx is done.
// conn is always closed on return.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	metrics.OpenConnections.Inc()
	defer metrics.OpenConnections.Dec()

	remote := conn.RemoteAddr().String()
	logger := h.log.With().Str("conn", utils.ShortID()).Str("remote", remote).Logger()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	lines := h.newReader(conn)

	line, err := lines.next()
	if err != nil {
		h.logReadError(&logger, err)
		return
	}

	cmd, err := proto.Parse(line)
	switch {
	case err == nil && cmd.Kind == proto.KindRegister:
		h.register(ctx, conn, &logger, cmd)
		return
	case err == nil && cmd.Kind == proto.KindLogin:
	default:
		var fe *proto.FormatError
		reply := proto.MsgLoginFormat
		if errors.As(err, &fe) && fe.Kind == proto.KindRegister {
			reply = proto.MsgRegisterFormat
		}
		metrics.CommandsTotal.WithLabelValues("handshake", "rejected").Inc()
		writeLine(conn, proto.Error(reply))
		return
	}

	sess, ok := h.login(ctx, conn, &logger, cmd)
	if !ok {
		return
	}
	logger = logger.With().Str("user", sess.Username).Logger()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := sess.WriteLoop(conn); err != nil {
			logger.Debug().Err(err).Msg("write failed")
		}
	}()

	c := &client{
		h:       h,
		sess:    sess,
		log:     &logger,
		limiter: newRateLimiter(h.cfg.RateBurst, h.cfg.RateInterval),
	}
	c.welcome(ctx)
	c.loop(ctx, lines)

	// Replies to everything read so far still go out before the conn closes.
	h.deps.Registry.UnregisterSession(sess)
	_ = conn.SetWriteDeadline(time.Now().Add(finishTimeout))
	sess.Finish()
	<-writerDone
	logger.Info().Dur("connected_for", time.Since(sess.ConnectedAt)).Msg("session closed")
}

// register handles the single-shot REGISTER exchange.
func (h *Handler) register(ctx context.Context, conn net.Conn, logger *zerolog.Logger, cmd proto.Command) {
	start := time.Now()
	err := h.deps.Auth.Register(ctx, cmd.User, cmd.Password)
	observe(proto.KindRegister, start, err)

	switch {
	case err == nil:
		logger.Info().Str("user", cmd.User).Msg("user registered")
		writeLine(conn, proto.OK(proto.MsgRegistered))
	case errors.Is(err, auth.ErrInvalidUsername):
		writeLine(conn, proto.Error(proto.MsgInvalidUsername))
	case errors.Is(err, auth.ErrInvalidPassword):
		writeLine(conn, proto.Error(proto.MsgInvalidPassword))
	default:
		if !errors.Is(err, auth.ErrUserExists) && !errors.Is(err, auth.ErrReservedUsername) {
			logger.Error().Err(err).Str("user", cmd.User).Msg("register failed")
		}
		writeLine(conn, proto.Error(proto.MsgRegisterFailed))
	}
}

// login authenticates cmd and binds a session in the registry. On failure it
// replies with the reason and reports false.
func (h *Handler) login(ctx context.Context, conn net.Conn, logger *zerolog.Logger, cmd proto.Command) (*core.Session, bool) {
	start := time.Now()
	_, err := h.deps.Auth.Authenticate(ctx, cmd.User, cmd.Password)
	if err != nil {
		observe(proto.KindLogin, start, err)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			logger.Info().Str("user", cmd.User).Msg("login rejected")
			writeLine(conn, proto.Error(proto.MsgInvalidCredentials))
		} else {
			logger.Error().Err(err).Str("user", cmd.User).Msg("login failed")
			writeLine(conn, proto.Error(proto.MsgProcessing))
		}
		return nil, false
	}

	sess := core.NewSession(cmd.User, conn.RemoteAddr().String(), conn, h.cfg.OutboundBuffer)
	if !h.deps.Registry.Register(sess) {
		metrics.CommandsTotal.WithLabelValues(string(proto.KindLogin), "rejected").Inc()
		logger.Info().Str("user", cmd.User).Msg("duplicate login rejected")
		writeLine(conn, proto.Error(proto.MsgAlreadyConnected))
		return nil, false
	}
	observe(proto.KindLogin, start, nil)
	return sess, true
}

func (h *Handler) logReadError(logger *zerolog.Logger, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		logger.Debug().Msg("connection closed by peer")
	case errors.As(err, &ne) && ne.Timeout():
		logger.Info().Msg("idle timeout")
	case errors.Is(err, bufio.ErrTooLong):
		logger.Warn().Int("max_bytes", h.cfg.MaxLineBytes).Msg("line too long, closing connection")
	default:
		logger.Warn().Err(err).Msg("read failed")
	}
}

// lineReader yields newline-terminated lines and re-arms the idle deadline
// before every read.
type lineReader struct {
	conn    net.Conn
	scanner *bufio.Scanner
	idle    time.Duration
}

func (h *Handler) newReader(conn net.Conn) *lineReader {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(64*1024, h.cfg.MaxLineBytes)), h.cfg.MaxLineBytes)
	return &lineReader{conn: conn, scanner: scanner, idle: h.cfg.IdleTimeout}
}

func (r *lineReader) next() (string, error) {
	if r.idle > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.idle))
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

// writeLine writes directly to conn. Only used before a session owns the writer.
func writeLine(conn net.Conn, line string) {
	_, _ = io.WriteString(conn, line+"\n")
}

func observe(kind proto.Kind, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CommandsTotal.WithLabelValues(string(kind), outcome).Inc()
	metrics.CommandDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}
