// Package controller owns the scan lifecycle: idle -> starting -> running
// -> stopping -> stopped/error. It wires the address generator, rate
// limiter, probe workers, and batch writer together, and persists
// round/resume-cursor state through storage.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/portscanner/internal/events"
	"github.com/example/portscanner/internal/ipaddr"
	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/probe"
	"github.com/example/portscanner/internal/ratelimit"
	"github.com/example/portscanner/internal/storage"
	"github.com/example/portscanner/internal/writer"
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

var (
	ErrAlreadyRunning = errors.New("scan already running")
	ErrNotRunning     = errors.New("no scan running")
	ErrEmptyPortSpec  = errors.New("port specification must not be empty")
)

const (
	stopWatchdog     = 30 * time.Second
	loopPauseBetween = 5 * time.Second

	// checkpointInterval is how often (in completed IPs) the producer
	// persists the resume cursor mid-pass, so a kill -9 loses at most this
	// many IPs of progress instead of the whole pass.
	checkpointInterval = 100

	defaultEndIP         = "255.255.255.255"
	defaultTimeout       = 500 * time.Millisecond
	defaultConcurrency   = 100
	defaultBatchSize     = 1000
	defaultFlushInterval = 5 * time.Second
	defaultMaxRate       = 10000
	defaultRateWindow    = time.Second
	defaultChanBuffer    = 1000
)

// StartRequest is the lifecycle request the HTTP API and cmd/scanner pass
// to Start.
type StartRequest struct {
	StartIP     string
	EndIP       string
	Ports       string
	TimeoutMS   int
	Concurrency int
	ProbeMode   string // "connect" or "syn"
	SkipPrivate bool
	LoopMode    bool

	PipelineBuffer int
	ResultBuffer   int
	BatchSize      int
	FlushInterval  time.Duration
	MaxRate        int
	RateWindow     time.Duration
}

// StatusView is a read-only snapshot of controller state for the API/TUI.
type StatusView struct {
	State       State
	ScanID      string
	Round       int64
	ErrorMsg    string
	Scanned     int64
	Open        int64
	Errors      int64
	Retries     int64
	StartedAt   time.Time
	FlushedRows int64
}

// Controller is the sole owner of the scan state machine.
type Controller struct {
	Store    *storage.Store
	Logger   logger.Logger
	Notifier *events.Notifier

	// OnOutcome, if set, is called for every probe outcome as it is handed
	// to the batch writer, before it is flushed — the live /ws/events feed
	// hooks in here. Must not block.
	OnOutcome func(storage.Outcome)

	mu      sync.Mutex
	state   State
	scanID  string
	errMsg  string
	cancel  context.CancelFunc
	done    chan struct{}
	metrics *probe.ScanMetrics
	writer  *writer.Writer
	round   int64
}

// New returns an idle Controller.
func New(store *storage.Store, log logger.Logger, notifier *events.Notifier) *Controller {
	return &Controller{Store: store, Logger: log, Notifier: notifier, state: StateIdle}
}

// Status returns a snapshot safe to read concurrently with Start/Stop.
func (c *Controller) Status(ctx context.Context) StatusView {
	c.mu.Lock()
	v := StatusView{State: c.state, ScanID: c.scanID, ErrorMsg: c.errMsg, Round: c.round}
	metrics := c.metrics
	w := c.writer
	c.mu.Unlock()

	if metrics != nil {
		snap := metrics.Snapshot()
		v.Scanned, v.Open, v.Errors, v.Retries, v.StartedAt = snap.Scanned, snap.Open, snap.Errors, snap.Retries, snap.StartTime
	}

	if w != nil {
		v.FlushedRows = w.Metrics.Snapshot().RowsUpserted
	}

	if round, err := c.Store.GetCurrentRound(ctx); err == nil {
		v.Round = round
	}

	return v
}

// Start transitions Idle|Stopped|Error -> Starting -> Running, spawning the
// producer/workers/writer pipeline in a background goroutine. Resume logic:
// if a persisted resume cursor exists and the caller did not override
// StartIP, the producer begins there and the current round is reused.
func (c *Controller) Start(ctx context.Context, req StartRequest) (string, error) {
	c.mu.Lock()

	if c.state == StateRunning || c.state == StateStarting {
		c.mu.Unlock()
		return "", ErrAlreadyRunning
	}

	ports, err := ipaddr.ParsePortSpec(req.Ports)
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %w", ErrEmptyPortSpec, err)
	}

	if len(ports) == 0 {
		c.mu.Unlock()
		return "", ErrEmptyPortSpec
	}

	scanID := fmt.Sprintf("scan-%d", time.Now().Unix())
	c.scanID = scanID
	c.state = StateStarting
	c.errMsg = ""
	c.metrics = probe.NewScanMetrics()

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	c.mu.Unlock()

	if err := c.Store.SaveMetadata(ctx, "scan_status", "starting"); err != nil && c.Logger != nil {
		c.Logger.Warn().Err(err).Msg("failed to persist scan_status")
	}

	_ = c.Store.SaveMetadata(ctx, "last_scan_id", scanID)
	_ = c.Store.SaveMetadata(ctx, "last_scan_start_time", time.Now().UTC().Format(time.RFC3339))

	startIP, round, err := c.resolveStart(ctx, req)
	if err != nil {
		c.fail(err)
		return "", err
	}

	c.mu.Lock()
	c.round = round
	c.state = StateRunning
	c.mu.Unlock()

	go c.run(runCtx, req, ports, startIP, round)

	return scanID, nil
}

// resolveStart consults the resume cursor unless the caller supplied an
// explicit StartIP.
func (c *Controller) resolveStart(ctx context.Context, req StartRequest) (string, int64, error) {
	if req.StartIP != "" {
		round, err := c.Store.GetCurrentRound(ctx)
		return req.StartIP, round, err
	}

	ip, _, round, ok, err := c.Store.GetProgress(ctx)
	if err != nil {
		return "", 0, err
	}

	if ok {
		return ip, round, nil
	}

	round, err = c.Store.GetCurrentRound(ctx)

	return "0.0.0.0", round, err
}

// Stop transitions Running|Starting -> Stopping, cancels the pipeline, and
// waits up to a 30s watchdog for it to drain before forcibly transitioning
// to Stopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()

	if c.state != StateRunning && c.state != StateStarting {
		c.mu.Unlock()
		return ErrNotRunning
	}

	c.state = StateStopping
	cancel := c.cancel
	done := c.done

	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
	case <-time.After(stopWatchdog):
		if c.Logger != nil {
			c.Logger.Warn().Msg("stop watchdog elapsed before pipeline drained; forcing stopped")
		}
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	_ = c.Store.SaveMetadata(ctx, "scan_status", "stopped")
	_ = c.Store.SaveMetadata(ctx, "last_scan_stop_time", time.Now().UTC().Format(time.RFC3339))

	return nil
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.state = StateError
	c.errMsg = err.Error()
	c.mu.Unlock()

	if c.Logger != nil {
		c.Logger.Error().Err(err).Msg("scan transitioned to error state")
	}
}

// run executes one or more passes (rounds) over the configured address
// range, looping indefinitely when req.LoopMode is set. It never knows
// whether it is round 1 or round 47.
func (c *Controller) run(ctx context.Context, req StartRequest, ports []uint16, startIP string, round int64) {
	defer close(c.done)

	correlationID := uuid.NewString()
	if c.Logger != nil {
		c.Logger.Info().Str("correlation_id", correlationID).Str("scan_id", c.scanID).
			Int64("round", round).Msg("scan round starting")
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		roundStart := time.Now()

		if err := c.runOnePass(ctx, req, ports, startIP, round); err != nil {
			c.fail(err)
			return
		}

		c.Notifier.PublishRoundCompleted(events.RoundCompleted{
			ScanID:      c.scanID,
			Round:       round,
			OpenCount:   c.metrics.Open.Load(),
			ScannedIPs:  c.metrics.Scanned.Load(),
			DurationSec: time.Since(roundStart).Seconds(),
		})

		if !req.LoopMode {
			return
		}

		next, err := c.Store.IncrementRound(ctx)
		if err != nil {
			c.fail(err)
			return
		}

		round = next
		startIP = "0.0.0.0" // a fresh pass always covers the full configured range

		select {
		case <-time.After(loopPauseBetween):
		case <-ctx.Done():
			return
		}
	}
}

// runOnePass wires producer -> probe scanner -> writer for a single pass
// over [startIP, req.EndIP], blocking until the range is exhausted or ctx
// is cancelled, then checkpoints the resume cursor.
func (c *Controller) runOnePass(ctx context.Context, req StartRequest, ports []uint16, startIP string, round int64) error {
	endIP := req.EndIP
	if endIP == "" {
		endIP = defaultEndIP
	}

	gen, err := ipaddr.NewGenerator(startIP, endIP, req.SkipPrivate)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(intOr(req.MaxRate, defaultMaxRate), durOr(req.RateWindow, defaultRateWindow))

	chanBuf := intOr(req.PipelineBuffer, defaultChanBuffer)
	resultBuf := intOr(req.ResultBuffer, defaultChanBuffer)

	ips := make(chan string, chanBuf)
	probeOut := make(chan probe.Outcome, resultBuf)
	storeOut := make(chan storage.Outcome, resultBuf)

	w := writer.New(c.Store, intOr(req.BatchSize, defaultBatchSize), durOr(req.FlushInterval, defaultFlushInterval), c.Logger)

	c.mu.Lock()
	c.writer = w
	c.mu.Unlock()

	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		w.Run(ctx, storeOut, func() int64 { return round })
	}()

	bridgeDone := make(chan struct{})

	go func() {
		defer close(bridgeDone)

		for o := range probeOut {
			so := storage.Outcome{IP: o.IP, Port: o.Port, Open: o.Open, IPType: "IPv4"}

			if c.OnOutcome != nil {
				c.OnOutcome(so)
			}

			select {
			case storeOut <- so:
			case <-ctx.Done():
				return
			}
		}
	}()

	var lastIP string

	var mu sync.Mutex

	go func() {
		defer close(ips)

		var completed int64

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			ip, _, ok := gen.Next()
			if !ok {
				return
			}

			mu.Lock()
			lastIP = ip
			mu.Unlock()

			select {
			case ips <- ip:
			case <-ctx.Done():
				return
			}

			completed++

			if completed%checkpointInterval == 0 {
				if err := c.Store.SaveProgress(ctx, ip, "IPv4", round); err != nil && c.Logger != nil {
					c.Logger.Warn().Err(err).Str("ip", ip).Msg("failed to persist periodic resume checkpoint")
				}
			}
		}
	}()

	if err := c.runProbe(ctx, req, ports, ips, limiter, probeOut); err != nil {
		return err
	}

	close(probeOut)
	<-bridgeDone
	close(storeOut)
	<-writerDone

	mu.Lock()
	final := lastIP
	mu.Unlock()

	if final != "" {
		if err := c.Store.SaveProgress(ctx, final, "IPv4", round); err != nil {
			return err
		}
	}

	return nil
}

// runProbe blocks until ips is exhausted, dispatching to whichever probe
// variant req.ProbeMode names. Defaults to connect mode.
func (c *Controller) runProbe(ctx context.Context, req StartRequest, ports []uint16, ips <-chan string, limiter *ratelimit.Limiter, out chan<- probe.Outcome) error {
	if req.ProbeMode == "syn" {
		scanner := &probe.SYNScanner{Limiter: limiter, Metrics: c.metrics, Logger: c.Logger}

		if err := scanner.Open(); err != nil {
			return err
		}
		defer scanner.Close()

		targets := make(chan probe.Target, cap(ips))

		go func() {
			defer close(targets)

			for ip := range ips {
				for _, port := range ports {
					select {
					case targets <- probe.Target{IP: ip, Port: port}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()

		scanner.Scan(ctx, targets, out)

		return nil
	}

	scanner := &probe.ConnectScanner{
		Timeout:     durOr(time.Duration(req.TimeoutMS)*time.Millisecond, defaultTimeout),
		Concurrency: intOr(req.Concurrency, defaultConcurrency),
		Limiter:     limiter,
		Metrics:     c.metrics,
		Logger:      c.Logger,
	}

	scanner.Scan(ctx, ips, ports, out)

	return nil
}

func intOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}

	return v
}

func durOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}

	return v
}
