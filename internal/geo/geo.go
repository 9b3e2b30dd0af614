// Package geo resolves network addresses to a coarse location.
package geo

import (
	"context"
	"net/netip"
	"strings"
)

// Location is a best-effort coarse location. Empty fields mean unknown.
type Location struct {
	Country   string   `json:"country,omitempty"`
	City      string   `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// IsZero reports whether nothing is known about the location
func (l Location) IsZero() bool {
	return l.Country == "" && l.City == "" && l.Latitude == nil && l.Longitude == nil
}

// String renders the location as "City, Country" for notifications and device lists
func (l Location) String() string {
	switch {
	case l.City != "" && l.Country != "":
		return l.City + ", " + l.Country
	case l.Country != "":
		return l.Country
	case l.City != "":
		return l.City
	default:
		return "Unknown location"
	}
}

// Locator looks up the location of a network address. Lookups never fail;
// unknown or private addresses return an empty Location.
type Locator interface {
	Lookup(ctx context.Context, address string) Location
}

// NopLocator resolves every address to an empty location
type NopLocator struct{}

func (NopLocator) Lookup(context.Context, string) Location {
	return Location{}
}

// ParseAddress extracts the IP from "ip", "ip:port" or "[ipv6]:port"
func ParseAddress(address string) (netip.Addr, bool) {
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

// Routable reports whether the address is worth a database lookup
func Routable(addr netip.Addr) bool {
	return addr.IsValid() && !addr.IsLoopback() && !addr.IsPrivate() &&
		!addr.IsUnspecified() && !addr.IsLinkLocalUnicast() && !addr.IsMulticast()
}
