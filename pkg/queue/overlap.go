package queue

import "container/list"

// span is a half-open byte range [off, off+size) still awaiting resolution,
// either against the backend (reads) or against a fresh Request (writes).
type span struct {
	off, size uint64
}

func (s span) end() uint64 { return s.off + s.size }

// splitAround removes [lo, hi) from s, returning the 0, 1, or 2 sub-spans
// that remain on either side.
func splitAround(s span, lo, hi uint64) []span {
	var out []span
	if s.off < lo {
		out = append(out, span{s.off, lo - s.off})
	}
	if hi < s.end() {
		out = append(out, span{hi, s.end() - hi})
	}
	return out
}

// applyOverlap intersects req's range against every span still in spans,
// invoking copyFn with the absolute [lo, hi) of each intersection found, and
// returns the spans with every covered sub-range removed. This single
// interval-splitting routine implements all four overlap classifications
// from the resolver (fully contained, tail, head, write-inside-read): each
// case falls out of how many sub-spans splitAround produces.
func applyOverlap(spans []span, req *Request, copyFn func(lo, hi uint64)) []span {
	next := make([]span, 0, len(spans)+1)
	for _, s := range spans {
		lo := max(s.off, req.offset)
		hi := min(s.end(), req.end())
		if lo >= hi {
			next = append(next, s)
			continue
		}
		copyFn(lo, hi)
		next = append(next, splitAround(s, lo, hi)...)
	}
	return next
}

// resolveRead services a pread against pending then in_flight, newest first,
// advancing section to the highest section of any overlapping write
// regardless of whether that write ends up contributing bytes (I7). It
// returns the bytes it could resolve from the queues and the sub-ranges it
// could not, which the caller must read from the backend.
func resolveRead(pending, inFlight *list.List, section *SectionNum, offset, size uint64, out []byte) []span {
	spans := []span{{offset, size}}

	scan := func(lst *list.List) {
		for e := lst.Back(); e != nil; e = e.Prev() {
			req, ok := e.Value.(*Request)
			if !ok || req.kind != KindWrite {
				continue
			}
			if !req.overlaps(offset, size) {
				continue
			}
			if req.section > *section {
				*section = req.section
			}
			spans = applyOverlap(spans, req, func(lo, hi uint64) {
				copy(out[lo-offset:hi-offset], req.buf[lo-req.offset:hi-req.offset])
			})
		}
	}
	scan(pending)
	scan(inFlight)
	return spans
}

// resolveWriteMerge attempts to absorb a pwrite into existing queued writes
// in the same section, scanning only pending, newest first. Writes strictly
// below origSection are never touched (older sections must not be
// retroactively mutated). Writes strictly above origSection are not merged
// into — merging into a write with content from a section this context
// hasn't reached yet would blur which producer's data wins — but discovering
// one still advances the context the same way a read dependency would. The
// returned bumped section must be applied to the context even when leftover
// is empty.
func resolveWriteMerge(pending *list.List, origSection SectionNum, offset, size uint64, buf []byte) (leftover []span, bumped SectionNum) {
	bumped = origSection
	spans := []span{{offset, size}}

	for e := pending.Back(); e != nil; e = e.Prev() {
		req, ok := e.Value.(*Request)
		if !ok || req.kind != KindWrite || req.section < origSection {
			continue
		}
		if !req.overlaps(offset, size) {
			continue
		}
		if req.section > origSection {
			if req.section > bumped {
				bumped = req.section
			}
			continue
		}
		spans = applyOverlap(spans, req, func(lo, hi uint64) {
			copy(req.buf[lo-req.offset:hi-req.offset], buf[lo-offset:hi-offset])
		})
		if len(spans) == 0 {
			break
		}
	}
	return spans, bumped
}
