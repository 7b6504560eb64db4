package backend

// WriteThrough wraps another Backend and forces OpenFlags().WriteThrough to
// true regardless of the wrapped backend's own setting, so the queue always
// bypasses itself for pwrite/barrier/aio_flush (§6's write-through bypass).
// Every other operation is delegated unchanged.
type WriteThrough struct {
	Backend
}

// NewWriteThrough wraps b so that it always reports write-through mode.
func NewWriteThrough(b Backend) *WriteThrough {
	return &WriteThrough{Backend: b}
}

func (w *WriteThrough) OpenFlags() OpenFlags {
	flags := w.Backend.OpenFlags()
	flags.WriteThrough = true
	return flags
}
