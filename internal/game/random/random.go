// Package random provides the randomness abstraction used for wait jitter,
// target randomization and probabilistic movement choices.
package random

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
	"sync"
	"time"
)

// Source is the randomness provider for scheduler decisions.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics with "random: Intn called with n <= 0" otherwise.
func (cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("random: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("random: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}

// seededSource is a deterministic PCG generator guarded by a mutex.
type seededSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeeded returns a deterministic Source. Two sources built from the same
// seed produce the same sequence.
func NewSeeded(seed uint64) Source {
	return &seededSource{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seededSource) Intn(n int) int {
	if n <= 0 {
		panic("random: Intn called with n <= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Fixed is a Source that replays Values in order, wrapping around. Each value
// is reduced modulo n. Intended for tests that need to force a branch.
type Fixed struct {
	mu     sync.Mutex
	Values []int
	next   int
}

// Intn returns the next scripted value modulo n.
func (f *Fixed) Intn(n int) int {
	if n <= 0 {
		panic("random: Intn called with n <= 0")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Values) == 0 {
		return 0
	}
	v := f.Values[f.next%len(f.Values)]
	f.next++
	if v < 0 {
		v = -v
	}
	return v % n
}

// Between returns a uniform int in [lo, hi].
//
// Precondition: lo <= hi.
func Between(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.Intn(hi-lo+1)
}

// Spread returns base shifted by a uniform offset in [-spread, spread].
func Spread(src Source, base, spread int) int {
	if spread <= 0 {
		return base
	}
	return base + Between(src, -spread, spread)
}

// Jitter returns base shifted by a uniform offset in [-spread, spread] at
// millisecond resolution, never below zero.
func Jitter(src Source, base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return max(base, 0)
	}
	ms := Spread(src, int(base.Milliseconds()), int(spread.Milliseconds()))
	return max(time.Duration(ms)*time.Millisecond, 0)
}

// Chance reports true with probability p, resolved to 1/10000.
func Chance(src Source, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return src.Intn(10_000) < int(p*10_000)
}

// Choose returns a uniformly selected element of items.
//
// Postcondition: ok is false only when items is empty.
func Choose[T any](src Source, items []T) (item T, ok bool) {
	if len(items) == 0 {
		return item, false
	}
	return items[src.Intn(len(items))], true
}
