package stage

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBallastExhausted is returned when an allocation would exceed the
// ballast limit. It is fatal to the run.
var ErrBallastExhausted = errors.New("ballast exhausted")

const (
	megabyte = 1 << 20
	pageSize = 4096
)

// Ballast is memory deliberately held for the lifetime of a run to
// simulate escalating pressure. It only grows; Release drops everything
// at teardown.
type Ballast struct {
	limitMB int

	mu      sync.Mutex
	chunks  [][]byte
	totalMB int
	samples []int
}

// NewBallast returns an empty ballast that refuses to grow past limitMB.
// A limit of zero means unlimited.
func NewBallast(limitMB int) *Ballast {
	return &Ballast{limitMB: limitMB, samples: []int{0}}
}

// Allocate adds mb megabytes. Every page is written so the memory is
// resident, not merely reserved. The total only changes once the whole
// delta is in place.
func (b *Ballast) Allocate(mb int) error {
	if mb < 0 {
		return fmt.Errorf("negative ballast delta %d", mb)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limitMB > 0 && b.totalMB+mb > b.limitMB {
		return fmt.Errorf("%w: %d MB held, %d MB requested, limit %d MB", ErrBallastExhausted, b.totalMB, mb, b.limitMB)
	}
	fresh := make([][]byte, 0, mb)
	for i := 0; i < mb; i++ {
		chunk := make([]byte, megabyte)
		for offset := 0; offset < len(chunk); offset += pageSize {
			chunk[offset] = byte(i)
		}
		fresh = append(fresh, chunk)
	}
	b.chunks = append(b.chunks, fresh...)
	b.totalMB += mb
	b.samples = append(b.samples, b.totalMB)
	return nil
}

// TotalMB returns the megabytes currently held.
func (b *Ballast) TotalMB() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalMB
}

// Samples returns the total after every allocation, starting with the
// empty baseline.
func (b *Ballast) Samples() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.samples...)
}

// Release frees the ballast. Call it only at run teardown.
func (b *Ballast) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
}
