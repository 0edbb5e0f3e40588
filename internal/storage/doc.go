package storage

// Package storage provides the optional moderator audit trail.
//
// Every moderator decision (approve, reject, delete, channel changes,
// purges) is appended so manual reconciliation after partial deliveries
// has something to work from.
