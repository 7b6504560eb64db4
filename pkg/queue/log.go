package queue

import "log/slog"

// Small slog.Attr constructors, one per domain field, mirroring the
// per-domain attribute helpers pattern used elsewhere in this codebase
// rather than building ad hoc key/value pairs at every call site.

func sectionAttr(s SectionNum) slog.Attr { return slog.Uint64("section", uint64(s)) }
func offsetAttr(off uint64) slog.Attr    { return slog.Uint64("offset", off) }
func sizeAttr(size uint64) slog.Attr     { return slog.Uint64("size", size) }
func kindAttr(k Kind) slog.Attr          { return slog.String("kind", k.String()) }
func queueDepthAttr(n uint64) slog.Attr  { return slog.Uint64("queue_depth", n) }
