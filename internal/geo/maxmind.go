package geo

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindLocator resolves addresses against a GeoIP2/GeoLite2 City database
type MaxMindLocator struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the .mmdb file at path
func OpenMaxMind(path string) (*MaxMindLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &MaxMindLocator{reader: reader}, nil
}

func (m *MaxMindLocator) Lookup(_ context.Context, address string) Location {
	addr, ok := ParseAddress(address)
	if !ok || !Routable(addr) {
		return Location{}
	}

	record, err := m.reader.City(net.IP(addr.AsSlice()))
	if err != nil {
		slog.Warn("GeoIP lookup failed", "error", err)
		return Location{}
	}

	loc := Location{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		loc.Latitude = &lat
		loc.Longitude = &lon
	}
	return loc
}

// Close releases the database file
func (m *MaxMindLocator) Close() error {
	return m.reader.Close()
}
