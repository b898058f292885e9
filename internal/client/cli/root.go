package cli

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
)

func (a *App) getStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := ""
	if a.userName != "" {
		s = a.userName + " "
	}
	if a.Mode != "" {
		s = s + string(a.Mode)
	}
	if a.messenger != nil {
		if conv := a.messenger.Current(); conv != "" {
			s = s + " #" + shortID(conv)
		}
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Root logs the user in, starts the connectivity watcher and runs the REPL
// until the user exits or stdin closes.
func (a *App) Root(ctx context.Context) {
	log.Println("Welcome to Circle CLI (type 'help' for commands)")

	if err := a.Login(ctx); err != nil {
		log.Printf("Login skipped: %s", err.Error())
	}

	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}

// shortID keeps prompts readable for uuid-sized ids.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
