package thorns

import (
	"io"
	"sync"
)

// process is a child started by this manager.
type process struct {
	suid string
	pid  int
	done chan struct{}

	mu    sync.Mutex
	stdin io.WriteCloser
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin.Write(b)
}

// Handle is the caller's side of a started server: writes go to the child's
// stdin.
type Handle struct {
	p *process
}

func (h *Handle) Write(b []byte) (int, error) {
	return h.p.write(b)
}

// Send writes line followed by a newline, as typed on a console.
func (h *Handle) Send(line string) error {
	_, err := h.p.write([]byte(line + "\n"))
	return err
}

// Close closes the child's stdin.
func (h *Handle) Close() error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	return h.p.stdin.Close()
}

func (h *Handle) PID() int { return h.p.pid }

func (h *Handle) SUID() string { return h.p.suid }

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.p.done }
