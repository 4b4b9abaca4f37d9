package geoip

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnavailable is returned when the resolver has no database loaded.
var ErrUnavailable = errors.New("geoip resolver unavailable")

// Resolver provides country lookups backed by a MaxMind GeoIP2 database. A nil
// *Resolver is valid and reports ErrUnavailable for every lookup.
type Resolver struct {
	reader *geoip2.Reader
}

// Open loads the GeoIP database at path. An empty path yields a nil resolver
// so locale detection simply skips the country hint.
func Open(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	return &Resolver{reader: reader}, nil
}

// CountryCode returns the ISO country code for ip.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil || r.reader == nil {
		return "", ErrUnavailable
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	record, err := r.reader.Country(parsed)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup country: %w", err)
	}
	if record == nil {
		return "", nil
	}
	return record.Country.IsoCode, nil
}

// Lookup adapts the resolver to the middleware's lookup signature. It returns
// nil when no database is configured.
func (r *Resolver) Lookup() func(ip string) (string, error) {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.CountryCode
}

// Close closes the underlying database reader.
func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}
