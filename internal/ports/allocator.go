// Package ports hands out free TCP ports to workers.
//
// Allocation is best effort: a port is free at the moment it is checked and
// the worker must bind it promptly. Within one process the allocator keeps a
// reservation set so that two workers starting at the same time never get
// the same port.
package ports

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"toolfleet/internal/api"
	"toolfleet/pkg/logging"
)

const maxPort = 65535

// ListenFunc opens a listener; it is net.Listen outside tests.
type ListenFunc func(network, address string) (net.Listener, error)

// Config tunes an Allocator.
type Config struct {
	Host        string
	MaxAttempts int
	BackoffStep time.Duration
}

// Allocator finds free ports by trying to listen on them.
type Allocator struct {
	host        string
	maxAttempts int
	backoffStep time.Duration
	listen      ListenFunc

	mu       sync.Mutex
	reserved map[int]bool
}

// NewAllocator creates an allocator using net.Listen.
func NewAllocator(cfg Config) *Allocator {
	return NewAllocatorWithListener(cfg, net.Listen)
}

// NewAllocatorWithListener creates an allocator with a custom listen function.
func NewAllocatorWithListener(cfg Config, listen ListenFunc) *Allocator {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 50
	}
	return &Allocator{
		host:        cfg.Host,
		maxAttempts: cfg.MaxAttempts,
		backoffStep: cfg.BackoffStep,
		listen:      listen,
		reserved:    make(map[int]bool),
	}
}

// Allocate returns a free port, trying preferred first and then counting up.
// A preferred port of zero asks the OS for an ephemeral port.
func (a *Allocator) Allocate(ctx context.Context, preferred int) (int, error) {
	if preferred == 0 {
		return a.allocateEphemeral(ctx)
	}

	port := preferred
	for attempt := 1; attempt <= a.maxAttempts && port <= maxPort; attempt++ {
		if a.tryReserve(port) {
			if port != preferred {
				logging.Debug("PortAllocator", "Preferred port %d busy, using %d after %d attempts", preferred, port, attempt)
			}
			return port, nil
		}

		if attempt < a.maxAttempts {
			if err := a.sleep(ctx, time.Duration(attempt)*a.backoffStep); err != nil {
				return 0, err
			}
		}
		port++
	}

	return 0, api.NewError(api.ErrorKindPortExhausted,
		"no free port in %d attempts starting at %d", a.maxAttempts, preferred)
}

func (a *Allocator) allocateEphemeral(ctx context.Context) (int, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		ln, err := a.listen("tcp", net.JoinHostPort(a.host, "0"))
		if err == nil {
			port := ln.Addr().(*net.TCPAddr).Port
			_ = ln.Close()
			if a.reserve(port) {
				return port, nil
			}
		}
		if attempt < a.maxAttempts {
			if err := a.sleep(ctx, time.Duration(attempt)*a.backoffStep); err != nil {
				return 0, err
			}
		}
	}
	return 0, api.NewError(api.ErrorKindPortExhausted, "no ephemeral port in %d attempts", a.maxAttempts)
}

// Release returns a port to the pool.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Reserved reports whether the allocator currently holds port.
func (a *Allocator) Reserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[port]
}

func (a *Allocator) tryReserve(port int) bool {
	a.mu.Lock()
	if a.reserved[port] {
		a.mu.Unlock()
		return false
	}
	// Hold the slot while probing so a concurrent caller skips it.
	a.reserved[port] = true
	a.mu.Unlock()

	if a.isFree(port) {
		return true
	}

	a.Release(port)
	return false
}

func (a *Allocator) reserve(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reserved[port] {
		return false
	}
	a.reserved[port] = true
	return true
}

func (a *Allocator) isFree(port int) bool {
	ln, err := a.listen("tcp", net.JoinHostPort(a.host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

func (a *Allocator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("port allocation cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
