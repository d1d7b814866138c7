// Package meta derives categorical requester metadata (OS, device type,
// browser, coarse geolocation) from raw request attributes. All derivation is
// best-effort: anything that cannot be determined stays an empty string.
package meta

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/mileusna/useragent"
	"github.com/oschwald/geoip2-golang"
)

// Metadata describes one requester.
type Metadata struct {
	OS         string
	DeviceType string
	Browser    string
	Country    string
	Region     string
	City       string
}

// Request carries the raw attributes metadata is derived from.
type Request struct {
	UserAgent string
	RemoteIP  string
	// CountryHeader is an edge-provided country code (e.g. CF-IPCountry),
	// used when no GeoIP database is configured.
	CountryHeader string
}

// Deriver turns raw request attributes into requester metadata.
type Deriver interface {
	Derive(req Request) Metadata
}

// Resolver is the default Deriver. It parses the user agent locally and
// resolves geolocation from an optional MaxMind city database, falling back
// to the edge country header when none is configured.
type Resolver struct {
	geo *geoip2.Reader
}

// NewResolver creates a resolver. geoDBPath may be empty, in which case
// geolocation degrades to the country header only.
func NewResolver(geoDBPath string) (*Resolver, error) {
	r := &Resolver{}
	if geoDBPath != "" {
		geo, err := geoip2.Open(geoDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open GeoIP database %s: %w", geoDBPath, err)
		}
		r.geo = geo
	}
	return r, nil
}

// Close releases the GeoIP database, if any.
func (r *Resolver) Close() error {
	if r.geo != nil {
		return r.geo.Close()
	}
	return nil
}

// Derive implements Deriver.
func (r *Resolver) Derive(req Request) Metadata {
	m := Metadata{}

	ua := useragent.Parse(req.UserAgent)
	m.OS = ua.OS
	m.Browser = ua.Name
	m.DeviceType = deviceType(ua)

	r.resolveGeo(req, &m)
	return m
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "Bot"
	case ua.Tablet:
		return "Tablet"
	case ua.Mobile:
		return "Mobile"
	case ua.Desktop:
		return "PC"
	default:
		return ""
	}
}

func (r *Resolver) resolveGeo(req Request, m *Metadata) {
	if r.geo == nil {
		m.Country = strings.ToUpper(strings.TrimSpace(req.CountryHeader))
		return
	}

	ip := net.ParseIP(req.RemoteIP)
	if ip == nil {
		return
	}

	record, err := r.geo.City(ip)
	if err != nil {
		slog.Warn("geoip lookup failed", "ip", req.RemoteIP, "error", err)
		return
	}

	m.Country = record.Country.Names["en"]
	if len(record.Subdivisions) > 0 {
		m.Region = record.Subdivisions[0].Names["en"]
	}
	m.City = record.City.Names["en"]
}
