// Package ipaddr implements the address generator: lazy enumeration of an
// IPv4 closed interval, reserved-block filtering, and the port-spec
// parser.
package ipaddr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange    = errors.New("end address precedes start address")
	ErrInvalidIP       = errors.New("not a valid IPv4 address")
	ErrInvalidPortSpec = errors.New("invalid port specification")
	ErrPortOutOfRange  = errors.New("port value out of range")
	ErrReversedRange   = errors.New("reversed port range")
)

// reservedBlocks are skipped when SkipPrivate is requested: 10/8,
// 172.16/12, 192.168/16, 127/8, 169.254/16, 224/4, 240/4.
var reservedBlocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"224.0.0.0/4",
	"240.0.0.0/4",
)

// unroutableSource is always skipped regardless of SkipPrivate.
var unroutableSource = mustParseCIDR("0.0.0.0/8")

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}

	return n
}

func mustParseCIDRs(ss ...string) []*net.IPNet {
	nets := make([]*net.IPNet, len(ss))
	for i, s := range ss {
		nets[i] = mustParseCIDR(s)
	}

	return nets
}

// ToIndex converts a dotted-quad IPv4 string to its big-endian uint32 index.
func ToIndex(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIP, s)
	}

	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIP, s)
	}

	return binary.BigEndian.Uint32(v4), nil
}

// FromIndex converts a uint32 index back to its canonical dotted-quad form.
func FromIndex(idx uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], idx)

	return net.IP(b[:]).String()
}

// IsReserved reports whether idx falls in one of the private/reserved
// blocks skipped when SkipPrivate is enabled.
func IsReserved(idx uint32) bool {
	ip := indexToIP(idx)
	for _, n := range reservedBlocks {
		if n.Contains(ip) {
			return true
		}
	}

	return false
}

// IsUnroutableSource reports whether idx is in 0.0.0.0/8, always skipped.
func IsUnroutableSource(idx uint32) bool {
	return unroutableSource.Contains(indexToIP(idx))
}

func indexToIP(idx uint32) net.IP {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], idx)

	return net.IP(b[:])
}

// Generator lazily enumerates every address in [start, end], in numeric
// order, optionally filtering reserved blocks. Non-restartable: call Next
// repeatedly until ok is false.
type Generator struct {
	cur         uint64 // wider than uint32 so the end-of-range +1 doesn't wrap
	end         uint64
	skipPrivate bool
	done        bool
}

// NewGenerator builds a Generator over [start, end]. Returns ErrInvalidRange
// if end < start.
func NewGenerator(start, end string, skipPrivate bool) (*Generator, error) {
	s, err := ToIndex(start)
	if err != nil {
		return nil, err
	}

	e, err := ToIndex(end)
	if err != nil {
		return nil, err
	}

	if e < s {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}

	return &Generator{cur: uint64(s), end: uint64(e), skipPrivate: skipPrivate}, nil
}

// Next returns the next address in the interval, skipping filtered blocks.
// ok is false once the interval (and any trailing filtered addresses) is
// exhausted.
func (g *Generator) Next() (ip string, idx uint32, ok bool) {
	for !g.done && g.cur <= g.end {
		candidate := uint32(g.cur)
		g.cur++

		if g.cur > g.end+1 {
			g.done = true
		}

		if IsUnroutableSource(candidate) {
			continue
		}

		if g.skipPrivate && IsReserved(candidate) {
			continue
		}

		return FromIndex(candidate), candidate, true
	}

	g.done = true

	return "", 0, false
}

// ParsePortSpec parses a port specification into a sorted, deduplicated
// list of ports. Recognized forms: single ("80"), comma list ("22,80,443"),
// inclusive range ("1-1024"). Fails on non-numeric tokens, values > 65535,
// or a reversed range.
func ParsePortSpec(spec string) ([]uint16, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPortSpec)
	}

	if strings.Contains(spec, "-") && !strings.Contains(spec, ",") {
		return parsePortRange(spec)
	}

	parts := strings.Split(spec, ",")
	seen := make(map[uint16]struct{}, len(parts))
	ports := make([]uint16, 0, len(parts))

	for _, p := range parts {
		port, err := parsePort(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}

		if _, ok := seen[port]; ok {
			continue
		}

		seen[port] = struct{}{}
		ports = append(ports, port)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	return ports, nil
}

func parsePortRange(spec string) ([]uint16, error) {
	bounds := strings.SplitN(spec, "-", 2)
	if len(bounds) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPortSpec, spec)
	}

	start, err := parsePort(strings.TrimSpace(bounds[0]))
	if err != nil {
		return nil, err
	}

	end, err := parsePort(strings.TrimSpace(bounds[1]))
	if err != nil {
		return nil, err
	}

	if end < start {
		return nil, fmt.Errorf("%w: %d-%d", ErrReversedRange, start, end)
	}

	ports := make([]uint16, 0, int(end)-int(start)+1)
	for p := start; ; p++ {
		ports = append(ports, p)

		if p == end {
			break
		}
	}

	return ports, nil
}

func parsePort(s string) (uint16, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty token", ErrInvalidPortSpec)
	}

	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidPortSpec, s, err)
	}

	if v > 65535 {
		return 0, fmt.Errorf("%w: %d", ErrPortOutOfRange, v)
	}

	return uint16(v), nil
}
