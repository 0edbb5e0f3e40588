// Package logx configures postbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional moderator-chat sink (min-level + rate limiting) so
//     persistence/delivery failures stay visible to the moderator
package logx
