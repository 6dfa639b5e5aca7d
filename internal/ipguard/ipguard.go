// Package ipguard implements the per-IP admission controller: a
// concurrent IP -> active-connection-count table bounding how many
// simultaneous connections one source address may hold.
package ipguard

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Guard bounds concurrent connections per source IP. The zero value with
// limit 0 is "unlimited": Allow always succeeds and never touches the
// map, so a limit of 0 is bypassed entirely rather than merely huge.
type Guard struct {
	limit uint32
	count *xsync.MapOf[string, *int64]
}

// New returns a Guard enforcing limit concurrent connections per IP.
// limit == 0 means unlimited.
func New(limit uint32) *Guard {
	g := &Guard{limit: limit}
	if limit > 0 {
		g.count = xsync.NewMapOf[string, *int64]()
	}
	return g
}

// Allow attempts to admit one more connection from ip, atomically
// incrementing its counter. It returns false (and leaves the counter
// unincremented) if doing so would exceed the configured limit. Every
// true result must be balanced by exactly one Release call.
func (g *Guard) Allow(ip string) bool {
	if g == nil || g.limit == 0 {
		return true
	}

	counter, _ := g.count.LoadOrCompute(ip, func() *int64 {
		v := int64(0)
		return &v
	})

	for {
		cur := atomic.LoadInt64(counter)
		if uint32(cur) >= g.limit {
			return false
		}
		if atomic.CompareAndSwapInt64(counter, cur, cur+1) {
			return true
		}
	}
}

// Release decrements ip's active count, removing the entry once it
// reaches zero to keep the table bounded.
func (g *Guard) Release(ip string) {
	if g == nil || g.limit == 0 {
		return
	}
	counter, ok := g.count.Load(ip)
	if !ok {
		return
	}
	if atomic.AddInt64(counter, -1) <= 0 {
		// Best-effort cleanup: if another accept raced in right after the
		// decrement and bumped the counter again, the LoadOrCompute in
		// Allow will simply find (and keep) that fresh entry.
		g.count.Delete(ip)
	}
}

// Active returns the current count for ip (0 if never seen or
// unlimited).
func (g *Guard) Active(ip string) int64 {
	if g == nil || g.limit == 0 {
		return 0
	}
	counter, ok := g.count.Load(ip)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}
