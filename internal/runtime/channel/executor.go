package channel

import "sync"

// executor runs the work of one channel strictly one item at a time. Work
// submitted while an item is running, from a hook of the same channel or
// from another goroutine, is queued and run by the current runner before it
// returns.
type executor struct {
	mu      sync.Mutex
	running bool
	queue   []func() error

	// report receives errors of queued work, which has no caller to
	// return them to.
	report func(error)
}

// run executes fn now when idle and returns its error. Otherwise fn is
// queued and run returns nil.
func (e *executor) run(fn func() error) error {
	e.mu.Lock()
	if e.running {
		e.queue = append(e.queue, fn)
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.reset()
			panic(r)
		}
	}()
	err := fn()
	e.drain()
	return err
}

func (e *executor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if err := next(); err != nil && e.report != nil {
			e.report(err)
		}
	}
}

func (e *executor) reset() {
	e.mu.Lock()
	e.running = false
	e.queue = nil
	e.mu.Unlock()
}

// busy reports whether work is running.
func (e *executor) busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// discard drops queued work without stopping the current runner.
func (e *executor) discard() {
	e.mu.Lock()
	e.queue = nil
	e.mu.Unlock()
}
