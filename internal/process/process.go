// Package process provides the process-wide lifecycle coordinator used to
// start and stop long-running goroutines (the EAS HTTP server goroutine,
// the SMTP accept loops and their per-connection goroutines) in a
// deterministic order, per spec.md §9 ("Global state: Initialize once at
// startup; shut down in reverse dependency order. No cyclic ownership.").
package process

import (
	"context"
	"sync"
)

// Context bundles a cancellable context with a WaitGroup so components can
// register long-running work and the top-level main() can wait for a clean
// shutdown after cancelling.
type Context struct {
	ctx      context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewContext creates a fresh process context rooted on context.Background.
func NewContext() *Context {
	ctx, cancel := context.WithCancel(context.Background())
	return &Context{ctx: ctx, cancelFn: cancel}
}

// Context returns the cancellable context components should select on.
func (p *Context) Context() context.Context {
	return p.ctx
}

// Go runs fn in a new goroutine tracked by the internal WaitGroup.
func (p *Context) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Shutdown cancels the context and blocks until every goroutine started via
// Go has returned.
func (p *Context) Shutdown() {
	p.cancelFn()
	p.wg.Wait()
}
