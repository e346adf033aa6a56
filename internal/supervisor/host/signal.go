package host

import "syscall"

// syscallSignal0 returns the null signal used to probe whether a
// process id is still alive without actually signaling it (the prior
// process manager's IsRunning used the same idiom).
func syscallSignal0() syscall.Signal {
	return syscall.Signal(0)
}
