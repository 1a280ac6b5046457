// Package events publishes an optional round-completion notification over
// NATS. When NATSURL is unconfigured the Notifier is a clean no-op, so the
// internal outcome channel never depends on it.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/example/portscanner/internal/logger"
)

// RoundCompleted is published to "scan.round.completed" after each pass
// over the configured address range: every round in loop mode, and the
// single pass otherwise.
type RoundCompleted struct {
	ScanID      string `json:"scan_id"`
	Round       int64  `json:"round"`
	OpenCount   int64  `json:"open_count"`
	ScannedIPs  int64  `json:"scanned_ips"`
	DurationSec float64 `json:"duration_sec"`
}

// Notifier publishes round-completion events. The zero value is a no-op.
type Notifier struct {
	conn   *nats.Conn
	logger logger.Logger
}

// Connect dials url if non-empty; an empty url yields a no-op Notifier.
func Connect(url string, log logger.Logger) (*Notifier, error) {
	if url == "" {
		return &Notifier{}, nil
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %q: %w", url, err)
	}

	return &Notifier{conn: conn, logger: log}, nil
}

// PublishRoundCompleted sends ev if the Notifier is connected; no-op
// otherwise. Marshaling or publish errors are logged, never fatal — this
// is a best-effort side channel, not part of the scan's correctness.
func (n *Notifier) PublishRoundCompleted(ev RoundCompleted) {
	if n == nil || n.conn == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn().Err(err).Msg("failed to marshal round-completed event")
		}

		return
	}

	if err := n.conn.Publish("scan.round.completed", data); err != nil {
		if n.logger != nil {
			n.logger.Warn().Err(err).Msg("failed to publish round-completed event")
		}
	}
}

// Close flushes and closes the connection, if any.
func (n *Notifier) Close() {
	if n != nil && n.conn != nil {
		n.conn.Close()
	}
}
