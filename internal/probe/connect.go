package probe

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/ratelimit"
)

// MaxRetries is the connect scanner's retry budget.
const MaxRetries = 3

// RetryBackoff is the linear backoff between connect retries.
const RetryBackoff = 100 * time.Millisecond

// ConnectScanner performs stateful TCP handshakes via the OS socket API,
// fanning out one task per (ip, port) pair bounded by a permit pool.
type ConnectScanner struct {
	Timeout     time.Duration
	Concurrency int
	Limiter     *ratelimit.Limiter
	Metrics     *ScanMetrics
	Logger      logger.Logger
}

// Scan reads IPs from ips, probes every port in ports for each, and emits
// outcomes to out. Blocks until ips is closed and every in-flight task has
// emitted its outcome. An outcome is emitted exactly once per (ip, port);
// the send to out blocks rather than drops when out is full.
func (c *ConnectScanner) Scan(ctx context.Context, ips <-chan string, ports []uint16, out chan<- Outcome) {
	sem := make(chan struct{}, c.Concurrency)

	var wg sync.WaitGroup

	for ip := range ips {
		ip := ip

		for _, port := range ports {
			port := port

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				continue
			}

			wg.Add(1)

			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					if r := recover(); r != nil {
						c.Metrics.Errors.Add(1)

						if c.Logger != nil {
							c.Logger.Error().Interface("panic", r).Str("ip", ip).
								Uint16("port", port).Msg("connect probe task panicked")
						}
					}
				}()

				c.probeOne(ctx, ip, port, out)
			}()
		}
	}

	wg.Wait()
}

func (c *ConnectScanner) probeOne(ctx context.Context, ip string, port uint16, out chan<- Outcome) {
	open := false

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Acquire(ctx); err != nil {
				return
			}
		}

		ok := c.dial(ctx, ip, port)
		if ok {
			open = true
			break
		}

		if attempt < MaxRetries {
			c.Metrics.Retries.Add(1)

			select {
			case <-time.After(RetryBackoff):
			case <-ctx.Done():
				return
			}
		}
	}

	c.Metrics.Scanned.Add(1)

	if open {
		c.Metrics.Open.Add(1)
	}

	select {
	case out <- Outcome{IP: ip, Port: port, Open: open}:
	case <-ctx.Done():
	}
}

func (c *ConnectScanner) dial(ctx context.Context, ip string, port uint16) bool {
	dialCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var d net.Dialer

	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(ip, portString(port)))
	if err != nil {
		return false
	}

	conn.Close()

	return true
}
