package history

import (
	"time"

	"github.com/vovakirdan/linechat-server/internal/store"
)

// TimeLayout is the timestamp format of history entries.
const TimeLayout = "2006-01-02 15:04:05"

const you = "Tú"

// Formatter renders messages as history entries for one viewer.
type Formatter struct {
	Location *time.Location
}

// Entry renders "[<timestamp>] <attribution>: <body>".
func (f Formatter) Entry(m store.Message, viewer string) string {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return "[" + m.CreatedAt.In(loc).Format(TimeLayout) + "] " + attribution(m, viewer) + ": " + m.Body
}

// Entries renders a sequence in order.
func (f Formatter) Entries(msgs []store.Message, viewer string) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, f.Entry(m, viewer))
	}
	return out
}

func attribution(m store.Message, viewer string) string {
	switch {
	case m.IsBroadcast():
		return m.Sender
	case m.Sender == viewer:
		return you + " -> " + m.Recipient
	case m.Recipient == viewer:
		return m.Sender + " -> " + you
	default:
		return m.Sender + " -> " + m.Recipient
	}
}
