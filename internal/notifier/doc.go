// Package notifier provides an async notification pipeline.
//
// Notifications are small, high-signal messages intended for operators (for
// example price alerts, news digests, or failure reports). A notification
// names a channel, a priority, a target, and optionally a subject line.
//
// # Channels
//
// Delivery is delegated to transport.Sender implementations registered by
// channel name (e.g. "telegram", "email"). A notification with an empty
// channel goes to the configured default channel. Formatting is the sender's
// job; the pipeline only handles queueing, rate limiting, retry and dedup.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently delivered notifications.
package notifier
