package risk

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInvalidNetwork is returned when a blocklist entry is neither an address nor a CIDR prefix
var ErrInvalidNetwork = errors.New("invalid network address")

// NetworkReputation answers whether a network address is known to be malicious
type NetworkReputation interface {
	IsMalicious(address string) bool
}

// BlockedNetwork is one blocklist entry. A zero ExpiresAt never expires.
type BlockedNetwork struct {
	Prefix    netip.Prefix `json:"-"`
	Network   string       `json:"network"`
	AddedAt   time.Time    `json:"added_at"`
	ExpiresAt time.Time    `json:"expires_at,omitzero"`
}

func (b BlockedNetwork) expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && !now.Before(b.ExpiresAt)
}

// Blocklist is an in-process network reputation list. Readers load an
// immutable snapshot; writers copy it and swap the pointer under mu.
type Blocklist struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]BlockedNetwork]
	nowF     func() time.Time
}

// NewBlocklist creates a blocklist seeded with permanent entries
func NewBlocklist(seed []string) (*Blocklist, error) {
	b := &Blocklist{nowF: time.Now}
	empty := []BlockedNetwork{}
	b.snapshot.Store(&empty)

	for _, network := range seed {
		if _, err := b.Add(network, 0); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// SetClock replaces the time source; used in tests
func (b *Blocklist) SetClock(now func() time.Time) {
	b.nowF = now
}

// ParseNetwork accepts a bare address or a CIDR prefix and returns its masked prefix
func ParseNetwork(network string) (netip.Prefix, error) {
	network = strings.TrimSpace(network)
	if strings.Contains(network, "/") {
		p, err := netip.ParsePrefix(network)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
		}
		return p.Masked(), nil
	}

	addr, err := netip.ParseAddr(network)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Add inserts or replaces an entry. ttl <= 0 means the entry never expires.
func (b *Blocklist) Add(network string, ttl time.Duration) (BlockedNetwork, error) {
	prefix, err := ParseNetwork(network)
	if err != nil {
		return BlockedNetwork{}, err
	}

	now := b.nowF().UTC()
	entry := BlockedNetwork{Prefix: prefix, Network: prefix.String(), AddedAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.snapshot.Load()
	next := make([]BlockedNetwork, 0, len(current)+1)
	for _, e := range current {
		if e.Prefix != prefix {
			next = append(next, e)
		}
	}
	next = append(next, entry)
	slices.SortFunc(next, func(x, y BlockedNetwork) int {
		return strings.Compare(x.Network, y.Network)
	})
	b.snapshot.Store(&next)

	return entry, nil
}

// Remove deletes an entry and reports whether it existed
func (b *Blocklist) Remove(network string) (bool, error) {
	prefix, err := ParseNetwork(network)
	if err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.snapshot.Load()
	next := make([]BlockedNetwork, 0, len(current))
	for _, e := range current {
		if e.Prefix != prefix {
			next = append(next, e)
		}
	}
	if len(next) == len(current) {
		return false, nil
	}
	b.snapshot.Store(&next)
	return true, nil
}

// Entries returns the unexpired entries ordered by network
func (b *Blocklist) Entries() []BlockedNetwork {
	now := b.nowF()
	current := *b.snapshot.Load()
	out := make([]BlockedNetwork, 0, len(current))
	for _, e := range current {
		if !e.expired(now) {
			out = append(out, e)
		}
	}
	return out
}

// Prune drops expired entries and returns how many were removed
func (b *Blocklist) Prune() int {
	now := b.nowF()

	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.snapshot.Load()
	next := make([]BlockedNetwork, 0, len(current))
	for _, e := range current {
		if !e.expired(now) {
			next = append(next, e)
		}
	}
	removed := len(current) - len(next)
	if removed > 0 {
		b.snapshot.Store(&next)
	}
	return removed
}

// IsMalicious reports whether address falls inside any unexpired entry.
// Unparseable addresses are never malicious.
func (b *Blocklist) IsMalicious(address string) bool {
	addr, ok := parseClientAddr(address)
	if !ok {
		return false
	}

	now := b.nowF()
	for _, e := range *b.snapshot.Load() {
		if e.Prefix.Contains(addr) && !e.expired(now) {
			return true
		}
	}
	return false
}

// parseClientAddr accepts "ip", "ip:port" and "[ipv6]:port"
func parseClientAddr(address string) (netip.Addr, bool) {
	address = strings.TrimSpace(address)
	if ap, err := netip.ParseAddrPort(address); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(address, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
