package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/circle/internal/client/services"
	"github.com/dmitrijs2005/circle/internal/dto"
)

// Conv creates and lists conversations:
//
//	conv new <direct|group> <name> <participants...>
//	conv list
func (a *App) Conv(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("conv new <direct|group> <name> <participants...> | conv list")
	}

	switch args[0] {
	case "new":
		if len(args) < 4 {
			return usageError("conv new <direct|group> <name> <participants...>")
		}
		kind := args[1]
		if kind != dto.ConversationDirect && kind != dto.ConversationGroup {
			return usageError("conv new <direct|group> <name> <participants...>")
		}
		conv, err := a.convAPI.CreateConversation(ctx, dto.CreateConversationRequest{
			Name:                   args[2],
			Type:                   kind,
			ParticipantIdentifiers: args[3:],
		})
		if err != nil {
			return err
		}
		printlnFn(fmt.Sprintf("Created conversation %s (%s)", conv.ID, conv.Name))
		return nil
	case "list":
		convs, err := a.convAPI.ListConversations(ctx)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			printlnFn("No conversations yet.")
			return nil
		}
		for _, c := range convs {
			names := make([]string, 0, len(c.Participants))
			for _, p := range c.Participants {
				names = append(names, p.Username)
			}
			printlnFn(fmt.Sprintf("%s  %-20s %-6s %s", c.ID, c.Name, c.Type, strings.Join(names, ", ")))
		}
		return nil
	default:
		return usageError("conv new <direct|group> <name> <participants...> | conv list")
	}
}

func (a *App) chat() (*services.Messenger, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.account == nil {
		return nil, errNotLoggedIn
	}
	if a.messenger == nil {
		return nil, errNoMessenger
	}
	return a.messenger, nil
}

// currentChat is chat plus a selected conversation.
func (a *App) currentChat() (*services.Messenger, string, error) {
	m, err := a.chat()
	if err != nil {
		return nil, "", err
	}
	conv := m.Current()
	if conv == "" {
		return nil, "", errNoConversation
	}
	return m, conv, nil
}

// Use makes a conversation current and shows its latest messages.
func (a *App) Use(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("use <conversationId>")
	}
	m, err := a.chat()
	if err != nil {
		return err
	}
	m.SwitchConversation(ctx, args[0])
	printlnFn(fmt.Sprintf("Now in conversation %s", args[0]))

	if a.mode() != ModeOnline {
		a.printRecords(m, m.Store().Messages(args[0]))
		return nil
	}
	return a.History(ctx, []string{"20"})
}
