// Package notify provides a lightweight asynchronous notification
// service for small, high-signal messages: contributor receipts,
// moderator alerts, and publish reports.
//
// Delivery is delegated to a transport.Adapter, so callers can emit
// notifications without blocking on the messaging endpoint or knowing
// which platform backs it. Sends are rate limited and retried with
// exponential backoff; a small in-memory history is kept for /stats.
package notify
