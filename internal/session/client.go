package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/attachments"
	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/metrics"
	"github.com/vovakirdan/linechat-server/internal/proto"
	"github.com/vovakirdan/linechat-server/internal/store"
)

var errUnexpectedCommand = errors.New("unexpected command")

// client is the authenticated half of a connection.
type client struct {
	h       *Handler
	sess    *core.Session
	log     *zerolog.Logger
	limiter *rateLimiter
}

func (c *client) reply(line string) {
	c.sess.Send(line)
}

// welcome greets a freshly registered session with its merged history and
// marks pending private messages as read.
func (c *client) welcome(ctx context.Context) {
	user := c.sess.Username
	c.reply(proto.OK(proto.MsgConnectedAs + user))

	msgs, err := c.h.deps.History.Full(ctx, user)
	if err != nil {
		c.reply(proto.Error(proto.MsgProcessing))
	} else {
		c.reply(proto.History(c.h.format.Entries(msgs, user)))
	}
	c.h.deps.History.MarkAllRead(ctx, user)

	c.log.Info().Int("history", len(msgs)).Msg("logged in")
}

func (c *client) loop(ctx context.Context, lines *lineReader) {
	for {
		line, err := lines.next()
		if err != nil {
			c.h.logReadError(c.log, err)
			return
		}
		if !c.handle(ctx, line) {
			return
		}
	}
}

// handle processes one line and reports whether the connection stays open.
// A failing command never closes the connection.
func (c *client) handle(ctx context.Context, line string) (keep bool) {
	start := time.Now()

	cmd, err := proto.Parse(line)
	if err != nil {
		var fe *proto.FormatError
		if errors.As(err, &fe) {
			metrics.CommandsTotal.WithLabelValues(string(fe.Kind), "rejected").Inc()
			c.reply(proto.Error(proto.FormatErrorText(fe.Kind)))
		} else {
			metrics.CommandsTotal.WithLabelValues("unknown", "rejected").Inc()
			c.reply(proto.Error(proto.MsgUnknownCommand))
		}
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("command", string(cmd.Kind)).Msg("command panicked")
			metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), "error").Inc()
			c.reply(proto.Error(proto.MsgProcessing))
			keep = true
		}
	}()

	if cmd.Kind == proto.KindLogout {
		observe(cmd.Kind, start, nil)
		c.log.Info().Msg("logout")
		return false
	}

	if rateLimited(cmd.Kind) && !c.limiter.allow(c.h.now()) {
		metrics.CommandsTotal.WithLabelValues(string(cmd.Kind), "rejected").Inc()
		c.reply(proto.Error(proto.MsgRateLimited))
		return true
	}

	err = c.dispatch(ctx, cmd)
	observe(cmd.Kind, start, err)
	if err != nil && !errors.Is(err, errUnexpectedCommand) {
		c.log.Debug().Err(err).Str("command", string(cmd.Kind)).Msg("command failed")
	}
	return true
}

func rateLimited(kind proto.Kind) bool {
	switch kind {
	case proto.KindMessage, proto.KindPrivate, proto.KindFile, proto.KindPrivateFile:
		return true
	}
	return false
}

func (c *client) dispatch(ctx context.Context, cmd proto.Command) error {
	switch cmd.Kind {
	case proto.KindMessage:
		return c.broadcast(ctx, cmd.Body)
	case proto.KindPrivate:
		return c.private(ctx, cmd.Target, cmd.Body)
	case proto.KindFile:
		return c.sendFile(ctx, "", cmd.FileName, cmd.Payload)
	case proto.KindPrivateFile:
		return c.sendFile(ctx, cmd.Target, cmd.FileName, cmd.Payload)
	case proto.KindGetFile:
		return c.getFile(ctx, cmd.FileID)
	case proto.KindGetUsers:
		return c.users(ctx)
	case proto.KindGetPrivateHistory:
		return c.privateHistory(ctx, cmd.Target)
	case proto.KindGetGeneralHistory:
		return c.generalHistory(ctx)
	case proto.KindClearGeneral:
		return c.clearGeneral(ctx)
	case proto.KindClearPrivate:
		return c.clearPrivate(ctx, cmd.Target)
	default:
		// LOGIN and REGISTER are only valid before authentication.
		c.reply(proto.Error(proto.MsgUnknownCommand))
		return errUnexpectedCommand
	}
}

func (c *client) broadcast(ctx context.Context, body string) error {
	user := c.sess.Username
	if _, err := c.h.deps.History.SaveBroadcast(ctx, user, body, c.h.now()); err != nil {
		c.reply(proto.Error(proto.MsgProcessing))
		return err
	}
	c.h.deps.Registry.Broadcast(proto.Broadcast(user, body), user)
	return nil
}

// private stores the message first; an offline recipient reads it from history later.
func (c *client) private(ctx context.Context, recipient, body string) error {
	user := c.sess.Username
	msg, err := c.h.deps.History.SavePrivate(ctx, user, recipient, body, c.h.now())
	if err != nil {
		c.reply(proto.Error(proto.MsgProcessing))
		return err
	}
	if c.h.deps.Registry.SendTo(recipient, proto.Private(user, body)) {
		c.h.deps.History.MarkDelivered(ctx, msg.ID)
	}
	return nil
}

// sendFile shares a file with everyone when recipient is empty.
func (c *client) sendFile(ctx context.Context, recipient, name, payload string) error {
	user := c.sess.Username
	ts := c.h.now()

	f, err := c.h.deps.Attachments.Upload(ctx, user, recipient, name, payload, ts)
	if err != nil {
		switch {
		case errors.Is(err, attachments.ErrTooLarge):
			c.reply(proto.Error(proto.MsgFileTooLarge))
		case errors.Is(err, attachments.ErrInvalidPayload) && recipient == "":
			c.reply(proto.Error(proto.MsgFileFormat))
		case errors.Is(err, attachments.ErrInvalidPayload):
			c.reply(proto.Error(proto.MsgPrivateFileFormat))
		default:
			c.reply(proto.Error(proto.MsgProcessing))
		}
		return err
	}

	body := attachments.HistoryBody(f)
	line := proto.File(user, name, payload)

	if recipient == "" {
		if _, err := c.h.deps.History.SaveBroadcast(ctx, user, body, ts); err != nil {
			c.abortFile(ctx, f)
			return err
		}
		c.h.deps.Registry.Broadcast(line, user)
		return nil
	}

	msg, err := c.h.deps.History.SavePrivate(ctx, user, recipient, body, ts)
	if err != nil {
		c.abortFile(ctx, f)
		return err
	}
	if c.h.deps.Registry.SendTo(recipient, line) {
		c.h.deps.History.MarkDelivered(ctx, msg.ID)
	}
	return nil
}

// abortFile drops an upload whose history entry could not be written, so no
// file exists that no message refers to.
func (c *client) abortFile(ctx context.Context, f *store.File) {
	_ = c.h.deps.Attachments.Discard(ctx, f)
	c.reply(proto.Error(proto.MsgProcessing))
}

func (c *client) getFile(ctx context.Context, id string) error {
	f, payload, err := c.h.deps.Attachments.Fetch(ctx, c.sess.Username, id)
	if err != nil {
		if errors.Is(err, attachments.ErrNotFound) {
			c.reply(proto.Error(proto.MsgFileNotFound))
		} else {
			c.log.Error().Err(err).Str("file_id", id).Msg("fetch attachment failed")
			c.reply(proto.Error(proto.MsgProcessing))
		}
		return err
	}
	c.reply(proto.File(f.Sender, f.Name, payload))
	return nil
}

// users lists registered accounts other than the caller and the operator account.
func (c *client) users(ctx context.Context) error {
	names, err := c.h.deps.Auth.Usernames(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("list users failed")
		c.reply(proto.Error(proto.MsgProcessing))
		return err
	}
	reserved := c.h.deps.Auth.Reserved()
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == c.sess.Username || n == reserved {
			continue
		}
		out = append(out, n)
	}
	c.reply(proto.UserList(out))
	return nil
}

func (c *client) privateHistory(ctx context.Context, other string) error {
	user := c.sess.Username
	msgs, err := c.h.deps.History.Private(ctx, user, other)
	if err != nil {
		c.reply(proto.Error(proto.MsgProcessing))
		return err
	}
	c.reply(proto.PrivateHistory(c.h.format.Entries(msgs, user)))
	return nil
}

func (c *client) generalHistory(ctx context.Context) error {
	msgs, err := c.h.deps.History.General(ctx)
	if err != nil {
		c.reply(proto.Error(proto.MsgProcessing))
		return err
	}
	c.reply(proto.History(c.h.format.Entries(msgs, c.sess.Username)))
	return nil
}

func (c *client) clearGeneral(ctx context.Context) error {
	if err := c.h.deps.History.ClearBroadcast(ctx); err != nil {
		c.reply(proto.Error(proto.MsgProcessing))
		return err
	}
	c.log.Info().Msg("general history cleared")
	c.reply(proto.OK(proto.MsgGeneralCleared))
	return nil
}

// clearPrivate wipes the private messages of both parties. General chat is untouched.
func (c *client) clearPrivate(ctx context.Context, other string) error {
	for _, u := range []string{c.sess.Username, other} {
		if err := c.h.deps.History.ClearForUser(ctx, u); err != nil {
			c.reply(proto.Error(proto.MsgProcessing))
			return err
		}
	}
	c.reply(proto.OK(proto.MsgPrivateCleared))
	return nil
}
