package go_func_utils

import (
	"log"
	"runtime/debug"
	"sync"
)

// SafeGo runs fn on a new goroutine. A panic is written to logger with its
// stack before it is re-raised, so it survives a terminal UI owning stdout.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer logPanic(logger)
		fn()
	}()
}

// SafeGoWG is SafeGo tracked by wg; Done is called however fn exits.
func SafeGoWG(logger *log.Logger, wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer logPanic(logger)
		fn()
	}()
}

// SafeCall invokes a listener callback, logging and swallowing any panic.
// Returns true if fn completed normally.
func SafeCall(logger *log.Logger, name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("%s: listener panicked: %v\n%s", name, r, debug.Stack())
			ok = false
		}
	}()
	fn()
	return true
}

func logPanic(logger *log.Logger) {
	if r := recover(); r != nil {
		logger.Printf("PANIC: %v\n%s", r, debug.Stack())
		panic(r)
	}
}
