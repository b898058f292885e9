package cli

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/dmitrijs2005/circle/internal/client/vault"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/filex"
)

// maxUploadSize matches the server's per-file limit.
const maxUploadSize = 100 << 20

// readFile and writeFile are test seams for the filesystem.
var (
	readFile  = filex.ReadFileLimited
	writeFile = filex.WriteFileAtomic
)

func (a *App) vaultManager() (vaultService, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.vault == nil {
		return nil, errNotLoggedIn
	}
	return a.vault, nil
}

func (a *App) printProgress(p vault.Progress) {
	a.printInfo(fmt.Sprintf("* %s %s", shortID(p.TransferID), p.Milestone))
}

// Upload encrypts a local file and stores it in the vault:
//
//	upload <path> [private|conversation|public]
//
// Conversation files are attached to the current conversation.
func (a *App) Upload(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("upload <path> [private|conversation|public]")
	}
	vm, err := a.vaultManager()
	if err != nil {
		return err
	}

	meta := vault.Metadata{
		Filename:    filepath.Base(args[0]),
		ContentType: contentType(args[0]),
		AccessLevel: dto.AccessPrivate,
	}
	if len(args) == 2 {
		meta.AccessLevel = args[1]
	}
	if !dto.ValidAccessLevel(meta.AccessLevel) {
		return usageError("upload <path> [private|conversation|public]")
	}
	if meta.AccessLevel == dto.AccessConversation {
		_, conv, err := a.currentChat()
		if err != nil {
			return err
		}
		meta.ConversationID = conv
	}

	data, err := readFile(args[0], maxUploadSize)
	if err != nil {
		return err
	}

	f, err := vm.Upload(ctx, data, meta, a.printProgress)
	if err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Uploaded %s as %s (%d bytes encrypted)", meta.Filename, f.ID, f.Size))
	return nil
}

// Download fetches, verifies and decrypts a vault file into path.
func (a *App) Download(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("download <fileId> <path>")
	}
	vm, err := a.vaultManager()
	if err != nil {
		return err
	}

	data, err := vm.Download(ctx, args[0], a.printProgress)
	if err != nil {
		return err
	}
	if err := writeFile(args[1], data); err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Saved %d bytes to %s", len(data), args[1]))
	return nil
}

// Files lists vault files; "files here" limits the list to the current
// conversation.
func (a *App) Files(ctx context.Context, args []string) error {
	vm, err := a.vaultManager()
	if err != nil {
		return err
	}

	conv := ""
	if len(args) > 0 && args[0] == "here" {
		_, conv, err = a.currentChat()
		if err != nil {
			return err
		}
	}

	files, err := vm.List(ctx, conv, 0, 0)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		printlnFn("No files.")
		return nil
	}
	for _, f := range files {
		key := "no key"
		if f.HasKey {
			key = "key"
		}
		printlnFn(fmt.Sprintf("%s  %-24s %10d  %-12s %s", f.ID, f.Filename, f.Size, f.AccessLevel, key))
	}
	return nil
}

// Remove deletes a vault file and its local key.
func (a *App) Remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("rm <fileId>")
	}
	vm, err := a.vaultManager()
	if err != nil {
		return err
	}
	if err := vm.Delete(ctx, args[0]); err != nil {
		return err
	}
	printlnFn("Deleted " + args[0])
	return nil
}

func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
