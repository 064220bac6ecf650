package codes

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	minCode = 1000
	maxCode = 9999

	// Space is the number of distinct codes per namespace.
	Space = maxCode - minCode + 1

	DefaultRecentLimit = 1000
	DefaultMaxAttempts = Space
)

var ErrExhausted = errors.New("no code available")

// Namespace selects one of the independent code spaces.
type Namespace int

const (
	SessionCodes Namespace = iota
	RoomPasswords
)

func (n Namespace) String() string {
	switch n {
	case SessionCodes:
		return "session_code"
	case RoomPasswords:
		return "room_password"
	default:
		return "namespace(" + strconv.Itoa(int(n)) + ")"
	}
}

// Allocator hands out codes and tracks which ones are live.
type Allocator struct {
	mu          sync.Mutex
	live        map[Namespace]map[string]struct{}
	recent      *orderedmap.OrderedMap[string, struct{}]
	recentLimit int
	maxAttempts int
	intn        func(n int) int
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithRecentLimit bounds the recently-used set for session codes.
// Zero disables reuse suppression.
func WithRecentLimit(n int) Option {
	return func(a *Allocator) {
		if n >= 0 {
			a.recentLimit = n
		}
	}
}

// WithMaxAttempts bounds the number of random draws per allocation.
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithIntn replaces the random source. fn must return a value in [0, n).
func WithIntn(fn func(n int) int) Option {
	return func(a *Allocator) {
		if fn != nil {
			a.intn = fn
		}
	}
}

// NewAllocator creates an allocator with empty namespaces.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		live: map[Namespace]map[string]struct{}{
			SessionCodes:  {},
			RoomPasswords: {},
		},
		recent:      orderedmap.New[string, struct{}](),
		recentLimit: DefaultRecentLimit,
		maxAttempts: DefaultMaxAttempts,
		intn:        rand.IntN,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate reserves a fresh code in ns. It fails with ErrExhausted once
// maxAttempts draws all hit codes that are taken.
func (a *Allocator) Allocate(ns Namespace) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := a.namespace(ns)
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		code := strconv.Itoa(minCode + a.intn(Space))
		if _, taken := live[code]; taken {
			continue
		}
		if ns == SessionCodes && a.recentlyUsed(code) {
			continue
		}

		live[code] = struct{}{}
		if ns == SessionCodes {
			a.remember(code)
		}
		return code, nil
	}

	return "", fmt.Errorf("%w in %s after %d attempts", ErrExhausted, ns, a.maxAttempts)
}

// Release frees code in ns. Releasing an unknown code is a no-op.
// Session codes stay in the recently-used set until evicted.
func (a *Allocator) Release(ns Namespace, code string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.namespace(ns), code)
}

// InUse reports whether code is currently live in ns.
func (a *Allocator) InUse(ns Namespace, code string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.namespace(ns)[code]
	return ok
}

// Live returns the number of live codes in ns.
func (a *Allocator) Live(ns Namespace) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.namespace(ns))
}

// Recent returns the size of the recently-used session code set.
func (a *Allocator) Recent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recent.Len()
}

func (a *Allocator) namespace(ns Namespace) map[string]struct{} {
	live, ok := a.live[ns]
	if !ok {
		live = make(map[string]struct{})
		a.live[ns] = live
	}
	return live
}

func (a *Allocator) recentlyUsed(code string) bool {
	_, ok := a.recent.Get(code)
	return ok
}

// remember records code and evicts the oldest entries past recentLimit.
func (a *Allocator) remember(code string) {
	if a.recentLimit == 0 {
		return
	}
	a.recent.Set(code, struct{}{})
	for a.recent.Len() > a.recentLimit {
		oldest := a.recent.Oldest()
		a.recent.Delete(oldest.Key)
	}
}
