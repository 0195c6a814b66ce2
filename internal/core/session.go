package core

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/vovakirdan/linechat-server/internal/metrics"
)

// DefaultOutboundBuffer is the per-session queue length used when none is configured.
const DefaultOutboundBuffer = 256

// Session is the live binding of an authenticated user to its connection.
// Lines are queued with Send and written by WriteLoop in order.
type Session struct {
	Username    string
	RemoteAddr  string
	ConnectedAt time.Time

	out        chan string
	done       chan struct{}
	finish     chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
	conn       io.Closer
}

// NewSession builds a session around conn. conn is closed by Close.
func NewSession(username, remoteAddr string, conn io.Closer, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultOutboundBuffer
	}
	return &Session{
		Username:    username,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		out:         make(chan string, buffer),
		done:        make(chan struct{}),
		finish:      make(chan struct{}),
		conn:        conn,
	}
}

// Send queues a line without blocking. A session whose queue is full is a slow
// consumer and gets closed; Send then reports false.
func (s *Session) Send(line string) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.out <- line:
		return true
	default:
		metrics.EvictedSessions.Inc()
		s.Close()
		return false
	}
}

// Finish is the graceful counterpart of Close: the writer flushes every line
// already queued and then closes the session. Safe to call repeatedly and
// after Close.
func (s *Session) Finish() {
	s.finishOnce.Do(func() { close(s.finish) })
}

// Close stops the writer at once and closes the connection. Queued lines are
// dropped. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// WriteLoop drains the queue into w until the session is closed or finished,
// or a write fails. A failed write closes the session.
func (s *Session) WriteLoop(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for {
		select {
		case line := <-s.out:
			if err := s.write(bw, line); err != nil {
				s.Close()
				return err
			}
		case <-s.finish:
			err := s.flushQueued(bw)
			s.Close()
			return err
		case <-s.done:
			return nil
		}
	}
}

// flushQueued writes whatever is still queued, without waiting for more.
func (s *Session) flushQueued(bw *bufio.Writer) error {
	for {
		select {
		case line := <-s.out:
			if _, err := bw.WriteString(line + "\n"); err != nil {
				return err
			}
		default:
			return bw.Flush()
		}
	}
}

// write flushes once per burst of queued lines.
func (s *Session) write(bw *bufio.Writer, line string) error {
	for {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
		select {
		case line = <-s.out:
			continue
		default:
		}
		return bw.Flush()
	}
}
