package pkg

import "sync"

// closer adapts a plain cleanup function to a once-only io.Closer, matching
// the teacher's own Close func() pattern, so Destroy is safe to call more
// than once without double-running the underlying Driver.Destroy.
type closer struct {
	once sync.Once
	fn   func()
}

func newCloser(fn func()) *closer { return &closer{fn: fn} }

func (c *closer) Close() error {
	c.once.Do(c.fn)
	return nil
}
