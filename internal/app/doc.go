// Package app is the interactive MediScan shell.
//
// NewApp wires the local store, the optional remote store, the sync engine,
// the services and the connectivity monitor from a config.Config. Run starts
// the background machinery and reads commands until "exit", end of input or
// cancellation.
//
// Startup order
//
//  1. Create the bootstrap admin when the account collection is empty.
//  2. Restore a persisted session (auto-login).
//  3. Start the connectivity monitor. The first offline to online transition
//     applies remote migrations; every such transition runs SyncAll.
//  4. Start the optional metrics and gRPC health servers.
//
// Commands are gated by the signed-in account's permissions; type "help" for
// the list available to the current account.
package app
