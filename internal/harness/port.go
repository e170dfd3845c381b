package harness

import (
	"fmt"
	"net"
	"sync"
)

const maxPortAttempts = 32

// FreePort asks the OS for an unused TCP port. The listener is closed before
// returning, so another process may still grab the port before the caller
// binds it.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("listen for free port: %w", err)
	}
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("listen for free port: unexpected address type %T", ln.Addr())
	}
	return addr.Port, nil
}

// PortAllocator hands out free ports and never returns the same port twice
// within its lifetime.
type PortAllocator struct {
	mu     sync.Mutex
	issued map[int]struct{}
	probe  func() (int, error)
}

// NewPortAllocator creates an allocator backed by FreePort.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{
		issued: make(map[int]struct{}),
		probe:  FreePort,
	}
}

// Allocate returns a free port not previously issued by this allocator.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for range maxPortAttempts {
		port, err := a.probe()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrSetup, err)
		}
		if _, seen := a.issued[port]; seen {
			continue
		}
		a.issued[port] = struct{}{}
		return port, nil
	}
	return 0, fmt.Errorf("%w: no unused port after %d attempts", ErrSetup, maxPortAttempts)
}

// Issued reports how many ports have been handed out.
func (a *PortAllocator) Issued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.issued)
}
