package abichecker

import (
	"sync"
	"sync/atomic"
)

// atExit collects cleanup callbacks registered via RegisterAtExit, e.g. to
// stop the dashboard's HTTP server or release worktrees held open for
// debugging, run once by the CLI entrypoint as it shuts down.
var atExit struct {
	sync.Mutex
	fns    []func() error
	closed uint32
}

// RegisterAtExit queues fn to run when RunAtExit is called.
func RegisterAtExit(fn func() error) {
	if atomic.LoadUint32(&atExit.closed) != 0 {
		panic("BUG: RegisterAtExit must not be called from an atExit func")
	}
	atExit.Lock()
	defer atExit.Unlock()
	atExit.fns = append(atExit.fns, fn)
}

// RunAtExit runs every callback registered with RegisterAtExit, in
// registration order, stopping at the first error.
func RunAtExit() error {
	atomic.StoreUint32(&atExit.closed, 1)
	for _, fn := range atExit.fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
