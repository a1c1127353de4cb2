package concurrency

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo runs fn in a goroutine. A panic is logged under name with its stack
// and handed to onPanic when set; it never takes the process down.
func SafeGo(name string, fn func(), onPanic func(any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Panic recovered", "routine", name, "panic", r, "stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
