// Package emitter appends every intercepted event to a durable, ordered
// Redis Stream with at-least-once, fire-and-forget delivery (spec.md §4.3).
// Grounded on the teacher's pkg/infra/cache/client.go for the connect/ping/
// reconnect shape, generalized from TrustGate's general-purpose key-value
// Client interface to a single-purpose stream appender, since this
// component's entire surface is XAdd/XLen/XRevRangeN against one stream key.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/neuraltrust/cis-interceptor/internal/metrics"
	"github.com/neuraltrust/cis-interceptor/internal/types"
)

// StreamKey is the append-only log backend contract from spec.md §6.
const StreamKey = "cis:messages"

const (
	maxBackoff    = 10 * time.Second
	baseBackoff   = 1 * time.Second
	pingTimeout   = 2 * time.Second
	appendTimeout = 2 * time.Second
)

// Emitter is a single long-lived Redis client appending events to
// StreamKey. All exported methods are safe for concurrent use.
type Emitter struct {
	log    *logrus.Logger
	client *redis.Client

	mu             sync.RWMutex
	connected      bool
	reconnectN     int
	shutdownCh     chan struct{}
	shutdownWg     sync.WaitGroup
	rulesetVersion string
}

// Config addresses the log backend (spec.md §6 "backend host/port pairs for
// log and downstream detector").
type Config struct {
	Host           string
	Port           int
	RulesetVersion string
}

// New constructs an Emitter and attempts an initial connection. A failed
// initial connection is not an error: emit() fails open when disconnected,
// and a background goroutine retries with exponential backoff.
func New(cfg Config, log *logrus.Logger) *Emitter {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	})

	e := &Emitter{
		log:            log,
		client:         client,
		shutdownCh:     make(chan struct{}),
		rulesetVersion: cfg.RulesetVersion,
	}

	e.tryConnect()
	if !e.Connected() {
		e.shutdownWg.Add(1)
		go e.reconnectLoop()
	}
	return e
}

// newWithClient builds an Emitter around a caller-supplied Redis client,
// skipping the initial Ping so tests can drive connection state explicitly
// with redismock. Not exported; production code always goes through New.
func newWithClient(client *redis.Client, log *logrus.Logger, rulesetVersion string) *Emitter {
	return &Emitter{
		log:            log,
		client:         client,
		shutdownCh:     make(chan struct{}),
		rulesetVersion: rulesetVersion,
		connected:      true,
	}
}

func (e *Emitter) tryConnect() {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := e.client.Ping(ctx).Err(); err != nil {
		e.setConnected(false)
		return
	}
	e.setConnected(true)
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = v
	if v {
		e.reconnectN = 0
	}
}

// Connected reports the emitter's current connection state, used by the
// dispatcher's health and metrics responses.
func (e *Emitter) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// reconnectLoop retries the connection with backoff min(2^n*1000ms,10000ms)
// until it succeeds or Shutdown is called. Offline queueing is disabled by
// design: callers fail fast rather than buffer (spec.md §4.3).
func (e *Emitter) reconnectLoop() {
	defer e.shutdownWg.Done()
	for {
		e.mu.Lock()
		n := e.reconnectN
		e.reconnectN++
		e.mu.Unlock()

		delay := time.Duration(math.Min(math.Pow(2, float64(n))*float64(baseBackoff), float64(maxBackoff)))

		select {
		case <-e.shutdownCh:
			return
		case <-time.After(delay):
		}

		e.tryConnect()
		if e.Connected() {
			e.log.Info("emitter reconnected to log backend")
			return
		}
	}
}

// Emit constructs a flat record from message, result, and the hashed
// matched-sample tokens the dispatcher derived, and appends it to StreamKey.
// If the emitter is not currently connected it logs a warning and returns
// nil (fail-open, no error surfaced to the caller).
func (e *Emitter) Emit(ctx context.Context, message types.ChatMessage, result types.InterceptResult, hashedTokens []string) error {
	if !e.Connected() {
		e.log.WithField("message_id", message.MessageID).Warn("emitter disconnected, dropping event")
		metrics.EmitterEventsTotal.WithLabelValues("dropped").Inc()
		return nil
	}

	record, err := e.buildRecord(message, result, hashedTokens)
	if err != nil {
		e.log.WithError(err).Error("emitter failed to build record")
		metrics.EmitterEventsTotal.WithLabelValues("error").Inc()
		return nil
	}

	appendCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()

	if err := e.client.XAdd(appendCtx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: record,
	}).Err(); err != nil {
		e.log.WithError(err).WithField("message_id", message.MessageID).Error("emitter append failed")
		metrics.EmitterEventsTotal.WithLabelValues("error").Inc()
		return nil
	}
	metrics.EmitterEventsTotal.WithLabelValues("emitted").Inc()
	return nil
}

// EmitAsync fires Emit in its own goroutine and never surfaces its result;
// any panic recovered inside is logged rather than propagated, matching
// spec.md's "any rejection is caught and logged" contract.
func (e *Emitter) EmitAsync(ctx context.Context, message types.ChatMessage, result types.InterceptResult, hashedTokens []string) {
	e.shutdownWg.Add(1)
	go func() {
		defer e.shutdownWg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.WithField("panic", r).Error("emitter: recovered panic in emitAsync")
			}
		}()
		_ = e.Emit(ctx, message, result, hashedTokens)
	}()
}

func (e *Emitter) buildRecord(message types.ChatMessage, result types.InterceptResult, hashedTokens []string) (map[string]interface{}, error) {
	summary := types.InterceptResultSummary{
		Allowed:   result.Allowed,
		Action:    result.Action,
		RiskScore: result.RiskScore,
		Labels:    result.Labels,
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshal intercept result summary: %w", err)
	}

	record := map[string]interface{}{
		"message_id":       message.MessageID,
		"thread_id":        message.ThreadID,
		"user_id":          message.UserID,
		"content":          message.Content,
		"timestamp":        message.Timestamp,
		"intercept_result": string(summaryJSON),
		"emitted_at":       time.Now().UTC().Format(time.RFC3339Nano),
		"ruleset_version":  e.rulesetVersion,
	}
	if message.GPSLat != nil {
		record["gps_lat"] = *message.GPSLat
	}
	if message.GPSLon != nil {
		record["gps_lon"] = *message.GPSLon
	}
	if len(hashedTokens) > 0 {
		hashesJSON, err := json.Marshal(hashedTokens)
		if err == nil {
			record["hashed_tokens"] = string(hashesJSON)
		}
	}
	return record, nil
}

// Stats is the read-only stream inspection used by the metrics endpoint.
type Stats struct {
	Length int64
	LastID string
}

// StreamStats reports current stream length and last assigned id.
func (e *Emitter) StreamStats(ctx context.Context) (Stats, error) {
	length, err := e.client.XLen(ctx, StreamKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("xlen: %w", err)
	}

	entries, err := e.client.XRevRangeN(ctx, StreamKey, "+", "-", 1).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("xrevrange: %w", err)
	}
	lastID := ""
	if len(entries) > 0 {
		lastID = entries[0].ID
	}
	return Stats{Length: length, LastID: lastID}, nil
}

// Shutdown drains outstanding EmitAsync goroutines best-effort, stops the
// reconnect loop, and closes the Redis connection (spec.md §4.3).
func (e *Emitter) Shutdown(ctx context.Context) error {
	close(e.shutdownCh)

	done := make(chan struct{})
	go func() {
		e.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn("emitter shutdown: timed out waiting for in-flight emits")
	}

	return e.client.Close()
}
