// Package id provides ID generation for simulation entities.
package id

import (
	"strconv"
	"sync/atomic"
)

// A Generator produces unique string IDs.
type Generator interface {
	Generate() string
}

// NewSequentialGenerator returns a Generator that produces compact,
// monotonically increasing IDs. Sequential IDs keep event identities
// deterministic across runs of the same model.
func NewSequentialGenerator() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	nextID uint64
}

func (g *sequentialGenerator) Generate() string {
	n := atomic.AddUint64(&g.nextID, 1)

	return strconv.FormatUint(n, 10)
}

var defaultGenerator = NewSequentialGenerator()

// Generate returns the next ID from the process-wide generator.
func Generate() string {
	return defaultGenerator.Generate()
}
