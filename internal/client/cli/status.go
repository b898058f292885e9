package cli

import (
	"context"
	"fmt"
	"strings"
)

// Status prints connectivity, the current conversation, who is online and
// running transfers.
func (a *App) Status(ctx context.Context) error {
	a.mu.Lock()
	user, mode, sess, m, vm := a.userName, a.Mode, a.sess, a.messenger, a.vault
	a.mu.Unlock()

	printlnFn(fmt.Sprintf("User: %s (%s)", user, mode))
	if sess == nil {
		printlnFn("Realtime: no master key")
	} else {
		printlnFn("Realtime: " + sess.State().String())
	}
	if m != nil {
		if conv := m.Current(); conv != "" {
			printlnFn("Conversation: " + conv)
			if typing := m.Typing(conv); len(typing) > 0 {
				printlnFn("Typing: " + strings.Join(typing, ", "))
			}
		}
		if online := m.Online(); len(online) > 0 {
			printlnFn("Online: " + strings.Join(online, ", "))
		}
	}
	if vm != nil {
		for _, t := range vm.Transfers() {
			printlnFn(fmt.Sprintf("Transfer %s %s %q: %s", shortID(t.ID), t.Kind, t.Name, t.Milestone))
		}
	}
	return nil
}
