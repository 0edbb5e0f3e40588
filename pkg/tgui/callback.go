package tgui

import (
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// NOTE: This is the length of the full string: "scope:action:args".
const MaxCallbackDataLen = 64

// Data formats inline callback data as "scope:action:args...".
// Args are joined with ':'; individual args must not contain ':'.
func Data(scope, action string, args ...string) string {
	parts := make([]string, 0, 2+len(args))
	parts = append(parts, strings.TrimSpace(scope), strings.TrimSpace(action))
	parts = append(parts, args...)
	return strings.Join(parts, ":")
}

// Split parses callback data produced by Data. It returns the scope,
// action, and remaining args; missing parts come back empty.
func Split(data string) (scope, action string, args []string) {
	parts := strings.Split(data, ":")
	if len(parts) > 0 {
		scope = parts[0]
	}
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		args = parts[2:]
	}
	return scope, action, args
}
