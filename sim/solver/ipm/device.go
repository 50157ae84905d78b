package ipm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrDeviceMemory is returned when an arena does not fit in device memory.
var ErrDeviceMemory = errors.New("ipm: device memory exhausted")

// Device is an accelerator that runs one block per batch slot. Memory is
// handed out as arenas of equal-width slots; a block only touches its own
// slot, so a slot that diverges cannot corrupt its neighbours.
type Device interface {
	Name() string
	// Alloc reserves one arena of slots x width float64 values.
	Alloc(slots, width int) (*Arena, error)
	// Free releases an arena.
	Free(a *Arena)
	// Launch runs fn for every block in [0, blocks) and waits for all of
	// them. The returned slice holds each block's error; a block that
	// panics is reported as failed without stopping the others.
	Launch(blocks int, fn func(block int) error) []error
}

// Arena is a contiguous device buffer split into fixed-width slots.
type Arena struct {
	buf   []float64
	width int
}

// Slots returns the number of slots.
func (a *Arena) Slots() int {
	if a.width == 0 {
		return 0
	}
	return len(a.buf) / a.width
}

// Slot returns slot i. Its capacity ends at the slot boundary, so appends
// cannot spill into the next slot.
func (a *Arena) Slot(i int) []float64 {
	lo, hi := i*a.width, (i+1)*a.width
	return a.buf[lo:hi:hi]
}

// Host emulates a Device on the CPU: blocks run on a pool of Workers
// goroutines and device memory is a budget of MemoryLimit float64 values
// (0 means unlimited).
type Host struct {
	Workers     int
	MemoryLimit int

	mu    sync.Mutex
	inUse int
}

// NewHost returns an emulated device with the given worker count.
func NewHost(workers int) *Host {
	return &Host{Workers: max(workers, 1)}
}

func (h *Host) Name() string { return "host-emulator" }

// InUse returns the number of float64 values currently allocated.
func (h *Host) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

func (h *Host) Alloc(slots, width int) (*Arena, error) {
	if slots <= 0 || width <= 0 {
		return nil, fmt.Errorf("ipm: invalid arena %d x %d", slots, width)
	}
	size := slots * width
	h.mu.Lock()
	if h.MemoryLimit > 0 && h.inUse+size > h.MemoryLimit {
		free := h.MemoryLimit - h.inUse
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: need %d values, %d free", ErrDeviceMemory, size, free)
	}
	h.inUse += size
	h.mu.Unlock()
	return &Arena{buf: make([]float64, size), width: width}, nil
}

func (h *Host) Free(a *Arena) {
	if a == nil || a.buf == nil {
		return
	}
	h.mu.Lock()
	h.inUse -= len(a.buf)
	h.mu.Unlock()
	a.buf = nil
}

func (h *Host) Launch(blocks int, fn func(block int) error) []error {
	errs := make([]error, blocks)
	workers := min(max(h.Workers, 1), blocks)
	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				b := int(next.Add(1) - 1)
				if b >= blocks {
					return
				}
				errs[b] = runBlock(b, fn)
			}
		}()
	}
	wg.Wait()
	return errs
}

func runBlock(b int, fn func(int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ipm: block %d panicked: %v", b, r)
		}
	}()
	return fn(b)
}
