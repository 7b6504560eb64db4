package backend

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ncw/directio"
)

// DirectIO is a Backend over a single file opened with O_DIRECT, the real
// adapter for a raw block device or disk image. Offsets must be aligned to
// directio.BlockSize. Sizes are rounded up to the block boundary: a read
// returns only the requested bytes, and a write that ends mid-block fills
// the rest of that block with zeros. The queue passes requests through with
// their own offsets and sizes and does not round them to block boundaries.
//
// Every AsyncPwrite/AsyncFlush call spawns one goroutine that performs the
// blocking syscall and then invokes cb; this is the "asynchronous" half of
// the contract over an interface (pwrite(2)/fsync(2)) that is itself
// synchronous.
type DirectIO struct {
	mu   sync.Mutex
	file *os.File
	wt   bool
}

// OpenDirectIO opens path for O_DIRECT read/write, creating it if it does
// not exist.
func OpenDirectIO(path string, writeThrough bool) (*DirectIO, error) {
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, errors.Wrapf(err, "blockqueue: open %q for direct I/O", path)
	}
	return &DirectIO{file: f, wt: writeThrough}, nil
}

func (d *DirectIO) SyncPread(offset, size uint64) ([]byte, error) {
	buf := directio.AlignedBlock(int(alignUp(size)))
	d.mu.Lock()
	n, err := d.file.ReadAt(buf, int64(offset))
	d.mu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "blockqueue: direct read at offset %d size %d", offset, size)
	}
	if uint64(n) < size {
		return nil, errors.Newf("blockqueue: short direct read at offset %d: got %d want %d", offset, n, size)
	}
	return buf[:size:size], nil
}

func (d *DirectIO) AsyncPwrite(offset uint64, buf []byte, cb func(error)) error {
	aligned := directio.AlignedBlock(int(alignUp(uint64(len(buf)))))
	copy(aligned, buf)
	go func() {
		d.mu.Lock()
		_, err := d.file.WriteAt(aligned, int64(offset))
		d.mu.Unlock()
		if err != nil {
			cb(classify(err))
			return
		}
		cb(nil)
	}()
	return nil
}

func (d *DirectIO) AsyncFlush(cb func(error)) error {
	go func() {
		d.mu.Lock()
		err := d.file.Sync()
		d.mu.Unlock()
		if err != nil {
			cb(classify(err))
			return
		}
		cb(nil)
	}()
	return nil
}

func (d *DirectIO) OpenFlags() OpenFlags {
	return OpenFlags{WriteThrough: d.wt}
}

func (d *DirectIO) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

func alignUp(size uint64) uint64 {
	block := uint64(directio.BlockSize)
	if size%block == 0 {
		return size
	}
	return (size/block + 1) * block
}

func classify(err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return errors.Wrap(err, "blockqueue: direct I/O failed")
	}
	if isNoSpace(err) {
		return errors.Mark(errors.Wrap(err, "blockqueue: backend out of space"), ErrNoSpace)
	}
	return errors.Wrap(err, "blockqueue: direct I/O failed")
}
