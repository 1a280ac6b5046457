// Package storage implements the embedded SQL store: compact per-port IP
// bitmaps, open-port detail rows, scan metadata, and the read surface the
// API server consumes, backed by modernc.org/sqlite (pure-Go, CGO-free)
// in WAL journal mode.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/portscanner/internal/bitmap"
	"github.com/example/portscanner/internal/ipaddr"
	"github.com/example/portscanner/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS port_bitmaps (
	port INTEGER NOT NULL,
	ip_type TEXT NOT NULL,
	scan_round INTEGER NOT NULL,
	bitmap BLOB NOT NULL,
	open_count INTEGER DEFAULT 0,
	last_updated TEXT NOT NULL,
	PRIMARY KEY (port, ip_type, scan_round)
);
CREATE INDEX IF NOT EXISTS idx_port_round ON port_bitmaps(port, scan_round);

CREATE TABLE IF NOT EXISTS scan_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS open_ports_detail (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ip_address TEXT NOT NULL,
	ip_type TEXT NOT NULL,
	port INTEGER NOT NULL,
	scan_round INTEGER NOT NULL,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	UNIQUE(ip_address, port)
);

CREATE TABLE IF NOT EXISTS ip_details (
	ip_address TEXT PRIMARY KEY,
	country TEXT,
	region TEXT,
	city TEXT,
	updated_at TEXT NOT NULL
);
`

// Outcome is the (ip, port, open?) triple the batch writer flushes.
type Outcome struct {
	IP     string
	Port   uint16
	Open   bool
	IPType string // informational; BulkUpdatePortStatus records every row as "IPv4"
}

// IPGeoInfo is what the geo enrichment collaborator writes back.
type IPGeoInfo struct {
	IPAddress string
	Country   string
	Region    string
	City      string
}

// Stats is the aggregate read the API's stats endpoint serves.
type Stats struct {
	TotalOpenRecords int64
	UniqueIPs        int64
	MemoryUsageBytes int64
	CurrentRound     int64
	LastScanTime     string
}

// PortCount is one row of the top-N ports view.
type PortCount struct {
	Port      uint16
	OpenCount int64
}

// ScanHistoryRecord is the derived, read-only per-round summary.
type ScanHistoryRecord struct {
	ScanRound    int64
	FirstUpdated string
	LastUpdated  string
	TotalOpen    int64
	DistinctPort int64
}

// Store serializes all writes through a single mutex: one connection, one
// writer at a time.
type Store struct {
	db     *sql.DB
	logger logger.Logger
	mu     sync.Mutex
}

// Open creates (or attaches to) the embedded database at path, enabling WAL
// journaling and synchronous=NORMAL for durable-but-fast batch writes.
func Open(path string, log logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	db.SetMaxOpenConns(1) // the driver multiplexes through our own mutex anyway

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BulkUpdatePortStatus is the batch writer's flush algorithm: one
// transaction per flush, grouped by port to amortize bitmap
// (de)serialization, preserving first_seen immutability on detail rows.
func (s *Store) BulkUpdatePortStatus(ctx context.Context, outcomes []Outcome, scanRound int64) error {
	if len(outcomes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	byPort := make(map[uint16][]Outcome)
	for _, o := range outcomes {
		byPort[o.Port] = append(byPort[o.Port], o)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	for port, items := range byPort {
		bm, err := s.loadBitmapTx(ctx, tx, port, "IPv4", scanRound)
		if err != nil {
			return err
		}

		for _, o := range items {
			idx, err := ipaddr.ToIndex(o.IP)
			if err != nil {
				continue // invalid IPs are skipped, matching the original's behavior
			}

			bm.Set(idx, o.Open)
		}

		encoded := bm.Encode()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO port_bitmaps (port, ip_type, scan_round, bitmap, open_count, last_updated)
			VALUES (?, 'IPv4', ?, ?, ?, ?)
			ON CONFLICT(port, ip_type, scan_round)
			DO UPDATE SET bitmap = excluded.bitmap, open_count = excluded.open_count, last_updated = excluded.last_updated
		`, port, scanRound, encoded, bm.CountOnes(), now); err != nil {
			return fmt.Errorf("upsert port_bitmaps: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO open_ports_detail (ip_address, ip_type, port, scan_round, first_seen, last_seen)
			VALUES (?, 'IPv4', ?, ?, ?, ?)
			ON CONFLICT(ip_address, port)
			DO UPDATE SET scan_round = excluded.scan_round, last_seen = excluded.last_seen
		`)
		if err != nil {
			return fmt.Errorf("prepare open_ports_detail upsert: %w", err)
		}

		for _, o := range items {
			if !o.Open {
				continue
			}

			if _, err := stmt.ExecContext(ctx, o.IP, port, scanRound, now, now); err != nil {
				stmt.Close()
				return fmt.Errorf("upsert open_ports_detail: %w", err)
			}
		}

		stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) loadBitmapTx(ctx context.Context, tx *sql.Tx, port uint16, ipType string, scanRound int64) (*bitmap.Bitmap, error) {
	var blob []byte

	err := tx.QueryRowContext(ctx,
		`SELECT bitmap FROM port_bitmaps WHERE port = ? AND ip_type = ? AND scan_round = ?`,
		port, ipType, scanRound,
	).Scan(&blob)

	if err == sql.ErrNoRows {
		return bitmap.New(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("load bitmap row: %w", err)
	}

	bm, err := bitmap.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode bitmap: %w", err)
	}

	return bm, nil
}

// SaveMetadata upserts a scan_metadata key/value row.
func (s *Store) SaveMetadata(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save metadata %q: %w", key, err)
	}

	return nil
}

// GetMetadata reads a scan_metadata value; ok is false if absent.
func (s *Store) GetMetadata(ctx context.Context, key string) (value string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.QueryRowContext(ctx, `SELECT value FROM scan_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("get metadata %q: %w", key, err)
	}

	return value, true, nil
}

// GetCurrentRound returns the persisted current_round, defaulting to 1.
func (s *Store) GetCurrentRound(ctx context.Context) (int64, error) {
	v, ok, err := s.GetMetadata(ctx, "current_round")
	if err != nil {
		return 0, err
	}

	if !ok {
		return 1, nil
	}

	return strconv.ParseInt(v, 10, 64)
}

// IncrementRound advances and persists current_round, returning the new value.
func (s *Store) IncrementRound(ctx context.Context) (int64, error) {
	cur, err := s.GetCurrentRound(ctx)
	if err != nil {
		return 0, err
	}

	next := cur + 1

	if err := s.SaveMetadata(ctx, "current_round", strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}

	return next, nil
}

// SaveProgress checkpoints the resume cursor's three metadata rows.
func (s *Store) SaveProgress(ctx context.Context, ip, ipType string, scanRound int64) error {
	if err := s.SaveMetadata(ctx, "last_ip", ip); err != nil {
		return err
	}

	if err := s.SaveMetadata(ctx, "last_ip_type", ipType); err != nil {
		return err
	}

	return s.SaveMetadata(ctx, "last_scan_round", strconv.FormatInt(scanRound, 10))
}

// GetProgress returns the resume cursor, or ok=false if any of the three
// keys is missing.
func (s *Store) GetProgress(ctx context.Context) (ip, ipType string, scanRound int64, ok bool, err error) {
	ip, ok1, err := s.GetMetadata(ctx, "last_ip")
	if err != nil {
		return "", "", 0, false, err
	}

	ipType, ok2, err := s.GetMetadata(ctx, "last_ip_type")
	if err != nil {
		return "", "", 0, false, err
	}

	roundStr, ok3, err := s.GetMetadata(ctx, "last_scan_round")
	if err != nil {
		return "", "", 0, false, err
	}

	if !ok1 || !ok2 || !ok3 {
		return "", "", 0, false, nil
	}

	round, err := strconv.ParseInt(roundStr, 10, 64)
	if err != nil {
		return "", "", 0, false, fmt.Errorf("parse last_scan_round: %w", err)
	}

	return ip, ipType, round, true, nil
}

// GetMemoryUsageBytes sums the byte length of all stored bitmap blobs.
func (s *Store) GetMemoryUsageBytes(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var size int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(bitmap)), 0) FROM port_bitmaps`).Scan(&size)

	return size, err
}

// Stats returns the API collaborator's summary read.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	var totalOpen, uniqueIPs int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM open_ports_detail`).Scan(&totalOpen)
	if err == nil {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT ip_address) FROM open_ports_detail`).Scan(&uniqueIPs)
	}
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	mem, err := s.GetMemoryUsageBytes(ctx)
	if err != nil {
		return nil, err
	}

	round, err := s.GetCurrentRound(ctx)
	if err != nil {
		return nil, err
	}

	lastScan, _, err := s.GetMetadata(ctx, "last_scan_start_time")
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalOpenRecords: totalOpen,
		UniqueIPs:        uniqueIPs,
		MemoryUsageBytes: mem,
		CurrentRound:     round,
		LastScanTime:     lastScan,
	}, nil
}

// TopPorts returns the top limit ports by open_count for scanRound.
func (s *Store) TopPorts(ctx context.Context, scanRound int64, limit int) ([]PortCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT port, SUM(open_count) FROM port_bitmaps WHERE scan_round = ?
		GROUP BY port ORDER BY SUM(open_count) DESC LIMIT ?
	`, scanRound, limit)
	if err != nil {
		return nil, fmt.Errorf("top ports: %w", err)
	}
	defer rows.Close()

	var out []PortCount

	for rows.Next() {
		var pc PortCount
		if err := rows.Scan(&pc.Port, &pc.OpenCount); err != nil {
			return nil, err
		}

		out = append(out, pc)
	}

	return out, rows.Err()
}

// ScanHistory returns the derived per-round summary view.
func (s *Store) ScanHistory(ctx context.Context) ([]ScanHistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT scan_round, MIN(last_updated), MAX(last_updated), SUM(open_count), COUNT(DISTINCT port)
		FROM port_bitmaps GROUP BY scan_round ORDER BY scan_round
	`)
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	defer rows.Close()

	var out []ScanHistoryRecord

	for rows.Next() {
		var r ScanHistoryRecord
		if err := rows.Scan(&r.ScanRound, &r.FirstUpdated, &r.LastUpdated, &r.TotalOpen, &r.DistinctPort); err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// ResultFilter narrows the paginated open-port detail read.
type ResultFilter struct {
	IPLike string
	Port   uint16
	Round  int64
	IPType string
	Limit  int
	Offset int
}

// OpenPortDetail mirrors one open_ports_detail row.
type OpenPortDetail struct {
	IPAddress string
	IPType    string
	Port      uint16
	ScanRound int64
	FirstSeen string
	LastSeen  string
}

// Results returns a paginated, filtered read of open_ports_detail.
func (s *Store) Results(ctx context.Context, f ResultFilter) ([]OpenPortDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ip_address, ip_type, port, scan_round, first_seen, last_seen FROM open_ports_detail WHERE 1=1`
	args := []interface{}{}

	if f.IPLike != "" {
		query += ` AND ip_address LIKE ?`
		args = append(args, "%"+f.IPLike+"%")
	}

	if f.Port != 0 {
		query += ` AND port = ?`
		args = append(args, f.Port)
	}

	if f.Round != 0 {
		query += ` AND scan_round = ?`
		args = append(args, f.Round)
	}

	if f.IPType != "" {
		query += ` AND ip_type = ?`
		args = append(args, f.IPType)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("results query: %w", err)
	}
	defer rows.Close()

	var out []OpenPortDetail

	for rows.Next() {
		var d OpenPortDetail
		if err := rows.Scan(&d.IPAddress, &d.IPType, &d.Port, &d.ScanRound, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	return out, rows.Err()
}

// GetIPsMissingGeo returns up to limit distinct IPs present in
// open_ports_detail but absent from ip_details, for the geo enrichment
// collaborator to drain.
func (s *Store) GetIPsMissingGeo(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT d.ip_address FROM open_ports_detail d
		LEFT JOIN ip_details g ON g.ip_address = d.ip_address
		WHERE g.ip_address IS NULL LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get ips missing geo: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}

		out = append(out, ip)
	}

	return out, rows.Err()
}

// SaveIPGeoInfo writes back an enrichment result.
func (s *Store) SaveIPGeoInfo(ctx context.Context, info IPGeoInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_details (ip_address, country, region, city, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ip_address) DO UPDATE SET country = excluded.country, region = excluded.region,
			city = excluded.city, updated_at = excluded.updated_at
	`, info.IPAddress, info.Country, info.Region, info.City, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save ip geo info: %w", err)
	}

	return nil
}
