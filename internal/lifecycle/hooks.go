// Package lifecycle coordinates startup background tasks and graceful
// shutdown hooks.
package lifecycle

import "context"

// Hook is a named shutdown step executed during process teardown.
type Hook struct {
	Name string
	Fn   func(context.Context) error
}
