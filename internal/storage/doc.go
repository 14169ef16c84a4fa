// Package storage provides the persistence layer used by the daemon.
//
// It currently supports:
//   - Audit log appends (agent runs, deliveries, reloads)
//   - Notifier dedup state (to survive restarts)
//   - Price history, news items and digest bookkeeping for the agents
package storage
