package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/linechat-server/internal/attachments"
	"github.com/vovakirdan/linechat-server/internal/auth"
	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/history"
	"github.com/vovakirdan/linechat-server/internal/log"
	"github.com/vovakirdan/linechat-server/internal/store/sqlite"
)

type harness struct {
	t        *testing.T
	addr     string
	store    *sqlite.SQLiteStore
	auth     *auth.Service
	registry *core.Registry
	handler  *Handler
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, cfg Config, opts ...func(*Handler)) *harness {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)

	logger := log.Nop()
	authSvc := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}, "admin")
	registry := core.NewRegistry(logger)

	h := NewHandler(Deps{
		Auth:        authSvc,
		History:     history.NewService(st, history.DefaultLimit, logger),
		Attachments: attachments.NewService(st, attachments.NewMemoryStore(), 1024, logger),
		Registry:    registry,
	}, cfg, logger)
	for _, opt := range opts {
		opt(h)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go h.Serve(ctx, conn)
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		registry.CloseAll()
		_ = st.Close()
	})

	return &harness{
		t:        t,
		addr:     ln.Addr().String(),
		store:    st,
		auth:     authSvc,
		registry: registry,
		handler:  h,
		cancel:   cancel,
	}
}

func (h *harness) createUser(username, password string) {
	h.t.Helper()
	require.NoError(h.t, h.auth.Register(context.Background(), username, password))
}

func (h *harness) dial() *testClient {
	h.t.Helper()
	conn, err := net.DialTimeout("tcp", h.addr, 2*time.Second)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: h.t, conn: conn, r: bufio.NewReader(conn)}
}

// login dials, logs in and consumes the greeting up to the HISTORIAL line.
func (h *harness) login(username, password string) *testClient {
	h.t.Helper()
	c := h.dial()
	c.send("LOGIN:" + username + ":" + password + ":")
	require.Equal(h.t, "OK: Conectado como "+username, c.next())
	require.True(h.t, strings.HasPrefix(c.next(), "HISTORIAL:"))
	return c
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(c.t, err)
}

func (c *testClient) read() (string, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// next returns the next line that is not a USERLIST fan-out.
func (c *testClient) next() string {
	c.t.Helper()
	for {
		line, err := c.read()
		require.NoError(c.t, err)
		if !strings.HasPrefix(line, "USERLIST:") {
			return line
		}
	}
}

// nextUserList returns the next USERLIST line, skipping anything else.
func (c *testClient) nextUserList() string {
	c.t.Helper()
	for {
		line, err := c.read()
		require.NoError(c.t, err)
		if strings.HasPrefix(line, "USERLIST:") {
			return line
		}
	}
}

// expectClosed drains remaining lines and requires the server to close the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	for {
		_, err := c.read()
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.t.Fatalf("connection still open")
		}
		return
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
