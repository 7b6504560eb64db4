package queue

// Context is a per-producer view onto a Queue. It carries no synchronization
// of its own: every method round-trips through the owning Driver's loop
// goroutine, so calls from a single Context observe a happens-before
// ordering matching call order, exactly as §5 requires. A Context may be
// discarded at will; it holds no resources of its own.
type Context struct {
	driver  *Driver
	section SectionNum
}

// Section returns the context's current logical epoch. It is only
// meaningful immediately after a call into the owning Driver; treat it as a
// snapshot, not a live value, if read from outside the calling goroutine.
func (c *Context) Section() SectionNum { return c.section }

// PWrite enqueues size(buf) bytes at offset, merging into existing queued
// writes where possible. See Driver.PWrite.
func (c *Context) PWrite(offset uint64, buf []byte) error {
	return c.driver.PWrite(c, offset, buf)
}

// PRead resolves size bytes at offset against the queue and, for whatever
// remains unresolved, the backend. See Driver.PRead.
func (c *Context) PRead(offset, size uint64) ([]byte, error) {
	return c.driver.PRead(c, offset, size)
}

// Barrier closes the context's current section. See Driver.Barrier.
func (c *Context) Barrier() error {
	return c.driver.Barrier(c)
}

// AIOFlush inserts or merges a tail Barrier and attaches a FlushWaiter whose
// callback fires once that Barrier completes or the queue fails. It never
// blocks. See Driver.AIOFlush.
func (c *Context) AIOFlush(cb func(opaque any, err error), opaque any) *FlushWaiter {
	return c.driver.AIOFlush(c, cb, opaque)
}
