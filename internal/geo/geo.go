// Package geo enriches stored open-port IPs with country/region/city data
// from a local MaxMind City database. A WHOIS/HTTP geolocation fallback
// chain is out of scope here and is not built; a missing or unconfigured
// database just leaves an IP unenriched.
package geo

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/maxminddb-golang"

	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/storage"
)

// cityRecord mirrors the subset of a maxminddb City lookup this enricher
// reads; unused fields in the database are left unparsed.
type cityRecord struct {
	Country struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Subdivisions []struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// Enricher drains IPs missing geo data and writes back MaxMind lookups.
type Enricher struct {
	Store    *storage.Store
	Logger   logger.Logger
	Interval time.Duration
	Limit    int

	reader *maxminddb.Reader
}

// Open loads the MaxMind City database at path. A missing or unreadable
// database is a configuration error the caller should surface, not a
// silent no-op, since geo enrichment was explicitly requested.
func Open(store *storage.Store, path string, log logger.Logger) (*Enricher, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open maxmind database %q: %w", path, err)
	}

	return &Enricher{
		Store:    store,
		Logger:   log,
		Interval: 30 * time.Second,
		Limit:    200,
		reader:   reader,
	}, nil
}

func (e *Enricher) Close() error {
	if e.reader != nil {
		return e.reader.Close()
	}

	return nil
}

// Run polls for IPs missing geo info and enriches them until ctx is
// cancelled. One pass = one batch of up to e.Limit IPs.
func (e *Enricher) Run(ctx context.Context) {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(ctx); err != nil && e.Logger != nil {
			e.Logger.Warn().Err(err).Msg("geo enrichment pass failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce enriches a single batch and returns. Individual lookup failures
// are skipped rather than aborting the batch.
func (e *Enricher) RunOnce(ctx context.Context) error {
	ips, err := e.Store.GetIPsMissingGeo(ctx, e.Limit)
	if err != nil {
		return fmt.Errorf("list ips missing geo: %w", err)
	}

	for _, ip := range ips {
		info, ok := e.lookup(ip)
		if !ok {
			continue
		}

		if err := e.Store.SaveIPGeoInfo(ctx, info); err != nil {
			return fmt.Errorf("save ip geo info for %s: %w", ip, err)
		}
	}

	return nil
}

func (e *Enricher) lookup(ip string) (storage.IPGeoInfo, bool) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return storage.IPGeoInfo{}, false
	}

	var rec cityRecord

	if err := e.reader.Lookup(addr, &rec); err != nil {
		if e.Logger != nil {
			e.Logger.Debug().Err(err).Str("ip", ip).Msg("maxmind lookup failed")
		}

		return storage.IPGeoInfo{}, false
	}

	info := storage.IPGeoInfo{
		IPAddress: ip,
		Country:   rec.Country.Names["en"],
		City:      rec.City.Names["en"],
	}

	if len(rec.Subdivisions) > 0 {
		info.Region = rec.Subdivisions[0].Names["en"]
	}

	return info, true
}
