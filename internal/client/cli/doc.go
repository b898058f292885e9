// Package cli provides the interactive Circle command-line client.
//
// It wires configuration, local storage, the HTTP API, the real-time session
// and an interactive REPL that supports online/offline operation. Typical
// flow: prompt for credentials, unlock the local keystore, connect the
// session, start a background connectivity watcher, and execute user
// commands while incoming events are printed as they arrive.
//
// Key features:
//   - Register / Login / Logout (online with offline fallback)
//   - Master secret generation, import and export
//   - Conversations, encrypted messages, read receipts, typing indicators
//   - Vault upload, download, listing and deletion
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
package cli
