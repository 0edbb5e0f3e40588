// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (scope:action:args)
//   - A message builder with safe defaults for ParseMode="HTML"
//
// Handlers build a Message once and send/edit it without repeating
// ParseMode/preview/markup boilerplate.
package tgui
