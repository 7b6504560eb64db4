package backend

import (
	"errors"
	"syscall"

	cockroacherrors "github.com/cockroachdb/errors"
)

// ErrNoSpace marks a backend error as "no space left on device", the one
// error class the queue's error/flush state machine latches preferentially
// over others (§7).
var ErrNoSpace = cockroacherrors.New("blockqueue: backend out of space")

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
