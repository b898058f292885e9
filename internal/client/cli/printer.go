package cli

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/circle/internal/client/session"
	"github.com/dmitrijs2005/circle/internal/protocol"
	"github.com/fatih/color"
)

var (
	infoColor    = color.New(color.FgCyan)
	messageColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

func (a *App) printColored(c *color.Color, line string) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	c.Fprintln(a.out, line)
}

func (a *App) printInfo(line string) { a.printColored(infoColor, line) }

// printEvent renders session events as they arrive. It runs on the
// messenger's goroutine, after the event has been applied to the store.
func (a *App) printEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventState:
		a.printInfo(fmt.Sprintf("* connection %s", ev.State))
	case session.EventReconnect:
		a.printColored(warnColor, fmt.Sprintf("* reconnecting in %s (attempt %d)", ev.Delay.Round(time.Millisecond), ev.Attempt))
	case session.EventError:
		a.printColored(errorColor, fmt.Sprintf("* %v", ev.Err))
	case session.EventFrame:
		a.printFrame(ev.Frame)
	}
}

func (a *App) printFrame(f protocol.Frame) {
	a.mu.Lock()
	m := a.messenger
	a.mu.Unlock()
	if m == nil {
		return
	}
	current := m.Current()

	switch f := f.(type) {
	case *protocol.MessageReceived:
		msg := f.Message
		if msg.ConversationID != current {
			a.printInfo(fmt.Sprintf("* new message in #%s", shortID(msg.ConversationID)))
			return
		}
		r, ok := m.Store().Get(msg.ID)
		if !ok {
			return
		}
		line := formatRecord(r, m.DecryptMessage(msg).Display(), m.UserID())
		a.printColored(messageColor, line)
	case *protocol.MessageRead:
		if f.ConversationID == current && f.UserID != m.UserID() {
			a.printInfo(fmt.Sprintf("* %s read #%s", shortID(f.UserID), shortID(f.MessageID)))
		}
	case *protocol.TypingStart:
		if f.ConversationID == current && f.UserID != m.UserID() {
			a.printInfo(fmt.Sprintf("* %s is typing...", shortID(f.UserID)))
		}
	case *protocol.UserOnline:
		a.printInfo(fmt.Sprintf("* %s is online", shortID(f.UserID)))
	case *protocol.UserOffline:
		a.printInfo(fmt.Sprintf("* %s went offline", shortID(f.UserID)))
	case *protocol.Error:
		a.printColored(errorColor, "* server: "+f.Message)
	}
}
