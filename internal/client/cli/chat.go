package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/circle/internal/client/messages"
	"github.com/dmitrijs2005/circle/internal/client/services"
)

// Say sends text to the current conversation. The message is shown as
// pending until the server confirms it.
func (a *App) Say(ctx context.Context, text string) error {
	m, conv, err := a.currentChat()
	if err != nil {
		return err
	}
	_, err = m.Send(ctx, conv, text)
	return err
}

// History loads older messages of the current conversation:
//
//	history [limit] [beforeId]
func (a *App) History(ctx context.Context, args []string) error {
	m, conv, err := a.currentChat()
	if err != nil {
		return err
	}

	limit := 0
	before := ""
	if len(args) > 0 {
		limit, err = strconv.Atoi(args[0])
		if err != nil || limit < 0 {
			return usageError("history [limit] [beforeId]")
		}
	}
	if len(args) > 1 {
		before = args[1]
	}

	recs, err := m.LoadHistory(ctx, a.convAPI, conv, limit, before)
	if err != nil {
		return err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	a.printRecords(m, recs)
	return nil
}

// Read sends a read receipt for a message in the current conversation.
func (a *App) Read(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("read <messageId>")
	}
	m, conv, err := a.currentChat()
	if err != nil {
		return err
	}
	return m.MarkRead(ctx, conv, args[0])
}

// Typing signals that the user is composing a message in the current
// conversation. The indicator clears by itself after the typing timeout.
func (a *App) Typing(ctx context.Context) error {
	m, conv, err := a.currentChat()
	if err != nil {
		return err
	}
	return m.Keystroke(ctx, conv)
}

func (a *App) printRecords(m *services.Messenger, recs []messages.Record) {
	if len(recs) == 0 {
		printlnFn("No messages.")
		return
	}
	me := m.UserID()
	for _, r := range recs {
		printlnFn(formatRecord(r, m.Decrypt(r).Display(), me))
	}
}

func formatRecord(r messages.Record, text, me string) string {
	var b strings.Builder

	ts := r.CreatedAt
	if r.Origin == messages.Local {
		ts = r.InsertedAt
	}
	fmt.Fprintf(&b, "[%s] ", ts.Local().Format("15:04"))

	sender := shortID(r.SenderID)
	if r.SenderID == me || r.SenderID == "" {
		sender = "you"
	}
	b.WriteString(sender + ": ")

	if r.Deleted() {
		b.WriteString("(deleted)")
	} else {
		b.WriteString(text)
	}

	readers := 0
	for _, u := range r.ReadBy {
		if u != r.SenderID {
			readers++
		}
	}

	switch {
	case r.Failed:
		b.WriteString("  (failed)")
	case r.Origin == messages.Local:
		b.WriteString("  (sending)")
	case readers > 0:
		fmt.Fprintf(&b, "  (read by %d)", readers)
	}
	fmt.Fprintf(&b, "  #%s", shortID(r.ID))
	return b.String()
}
