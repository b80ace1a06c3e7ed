// Package dispatcher implements the request dispatcher: the persistent
// websocket transport and the secondary HTTP health/metrics surface
// (spec.md §4.4). Grounded on the teacher's pkg/server/server.go (fiber.App
// construction, metrics-on-a-separate-port pattern) and
// pkg/handlers/websocket/forwarded_handler.go (ping/pong keepalive,
// ReadMessage/WriteMessage loop), generalized from TrustGate's
// gateway-proxying connection handler to a single request/response
// frame-processing loop per spec.md §4.4's "Per-frame handling".
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/neuraltrust/cis-interceptor/internal/breaker"
	"github.com/neuraltrust/cis-interceptor/internal/config"
	"github.com/neuraltrust/cis-interceptor/internal/detector"
	"github.com/neuraltrust/cis-interceptor/internal/emitter"
	"github.com/neuraltrust/cis-interceptor/internal/metrics"
	"github.com/neuraltrust/cis-interceptor/internal/scorer"
	"github.com/neuraltrust/cis-interceptor/internal/types"
)

const pongWait = 45 * time.Second

// Dispatcher wires the scorer, breaker, emitter, and detector forwarder
// behind the two transports spec.md §6 calls for.
type Dispatcher struct {
	cfg      config.Config
	log      *logrus.Logger
	brk      *breaker.Breaker
	em       *emitter.Emitter
	det      *detector.Forwarder // nil when the downstream detector is unconfigured
	registry *prometheus.Registry

	wsApp     *fiber.App
	healthApp *fiber.App

	activeConns int64
}

// New constructs a Dispatcher. det may be nil: forwarding to the downstream
// detector is best-effort and its absence never affects the primary path.
func New(cfg config.Config, log *logrus.Logger, brk *breaker.Breaker, em *emitter.Emitter, det *detector.Forwarder) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		log:      log,
		brk:      brk,
		em:       em,
		det:      det,
		registry: metrics.Registry,
	}
	d.wsApp = d.buildWSApp()
	d.healthApp = d.buildHealthApp()
	return d
}

func (d *Dispatcher) buildWSApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReduceMemoryUsage:     true,
	})
	app.Use(fiberrecover.New())

	app.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/", websocket.New(d.handleConn, websocket.Config{
		HandshakeTimeout: 15 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}))

	return app
}

func (d *Dispatcher) buildHealthApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(fiberrecover.New())

	app.Get("/health", d.handleHealth)
	app.Get("/metrics", d.handleMetricsJSON)
	app.Get("/metrics/prometheus", d.handleMetricsPrometheus)
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	})

	return app
}

// Run starts both listeners and blocks until one of them fails or ctx is
// canceled (spec.md §6's two ports). It returns the first transport error.
func (d *Dispatcher) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		addr := fmt.Sprintf(":%d", d.cfg.WSPort)
		d.log.WithField("addr", addr).Info("starting websocket listener")
		if err := d.wsApp.Listen(addr); err != nil {
			errCh <- fmt.Errorf("websocket listener: %w", err)
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%d", d.cfg.HealthPort)
		d.log.WithField("addr", addr).Info("starting health listener")
		if err := d.healthApp.Listen(addr); err != nil {
			errCh <- fmt.Errorf("health listener: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops accepting new connections, closes both listeners, and
// tears down the emitter (spec.md §4.4 "Shutdown").
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if err := d.wsApp.ShutdownWithContext(ctx); err != nil {
		d.log.WithError(err).Warn("websocket app shutdown error")
	}
	if err := d.healthApp.ShutdownWithContext(ctx); err != nil {
		d.log.WithError(err).Warn("health app shutdown error")
	}
	if d.em != nil {
		if err := d.em.Shutdown(ctx); err != nil {
			return fmt.Errorf("emitter shutdown: %w", err)
		}
	}
	if d.det != nil {
		d.det.Close()
	}
	return nil
}

func (d *Dispatcher) handleConn(conn *websocket.Conn) {
	atomic.AddInt64(&d.activeConns, 1)
	metrics.ActiveConnections.Inc()
	defer func() {
		atomic.AddInt64(&d.activeConns, -1)
		metrics.ActiveConnections.Dec()
		conn.Close()
	}()

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		respBytes := d.processFrame(raw)
		if err := conn.WriteMessage(websocket.TextMessage, respBytes); err != nil {
			return
		}
	}
}

// processFrame implements spec.md §4.4's "Per-frame handling" steps 1-6,
// returning the encoded response to write back.
func (d *Dispatcher) processFrame(raw []byte) []byte {
	start := time.Now()

	var req types.InterceptorRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		metrics.MalformedFramesTotal.Inc()
		return encodeError("", "processing_error", "Internal server error")
	}

	if req.Type != "intercept" || strings.TrimSpace(req.Message.Content) == "" {
		metrics.MalformedFramesTotal.Inc()
		return encodeError(req.RequestID, "processing_error", "Internal server error")
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	result, hashedTokens := d.score(req.Message)

	if d.em != nil {
		d.em.EmitAsync(context.Background(), req.Message, result, hashedTokens)
	}
	if d.det != nil {
		d.det.ForwardAsync(req.Message, result, scorer.RulesetVersion)
	}

	processingMs := time.Since(start).Milliseconds()
	metrics.MessagesProcessedTotal.WithLabelValues(string(result.Action)).Inc()
	metrics.ProcessingLatencyMs.Observe(float64(processingMs))

	resp := types.InterceptorResponse{
		Type:         "intercept_result",
		RequestID:    requestID,
		Result:       result,
		ProcessingMs: processingMs,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return encodeError(requestID, "processing_error", "Internal server error")
	}
	return data
}

// score applies the length-gate fast path, then runs the pattern scorer
// under the circuit breaker, translating the breaker's sentinel and any
// panic recovered from the scorer into fail-open allow-results (spec.md
// §7's error table). Alongside the InterceptResult it returns the hashed
// matched-sample tokens (SPEC_FULL.md §3.2), computed here since the
// dispatcher is the last place PatternMatch.Samples exist before
// scorer.Decide collapses them into the wire-facing InterceptResult.
func (d *Dispatcher) score(message types.ChatMessage) (types.InterceptResult, []string) {
	if len(message.Content) > d.cfg.MaxMessageLength {
		return scorer.DecideLengthGate(d.cfg.MaxMessageLength), nil
	}

	res, wasOpen, err := breaker.Execute(d.brk, func() (res scorer.Result, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("scorer panic: %v", r)
			}
		}()
		return scorer.Score(message.Content), nil
	})

	metrics.CircuitBreakerState.Set(float64(d.brk.State()))

	if wasOpen {
		return types.InterceptResult{
			Allowed:   true,
			Action:    types.ActionAllow,
			RiskScore: 0.0,
			Labels:    []string{"circuit_breaker_open"},
		}, nil
	}
	if err != nil {
		d.log.WithError(err).Warn("scorer invocation failed, failing open")
		return types.InterceptResult{
			Allowed:   true,
			Action:    types.ActionAllow,
			RiskScore: 0.0,
			Labels:    []string{"interceptor_error"},
		}, nil
	}
	return scorer.Decide(res, d.cfg.SyncThreshold), hashedTokens(res.Matches)
}

// hashedTokens hashes each unique matched raw substring across all
// PatternMatch categories (SPEC_FULL.md §3.2), so the append-only log can
// correlate repeat offenders without ever storing a raw phone number or
// email address at rest.
func hashedTokens(matches []types.PatternMatch) []string {
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, m := range matches {
		for _, sample := range m.Samples {
			key := strings.ToLower(strings.TrimSpace(sample))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			sum := sha256.Sum256([]byte(key))
			out = append(out, hex.EncodeToString(sum[:]))
		}
	}
	return out
}

func encodeError(requestID, errKind, message string) []byte {
	resp := types.ErrorResponse{
		Type:      "error",
		RequestID: requestID,
		Error:     errKind,
		Message:   message,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"type":"error","error":"processing_error","message":"Internal server error"}`)
	}
	return data
}

func (d *Dispatcher) handleHealth(c *fiber.Ctx) error {
	state := d.brk.State()
	healthy := state == breaker.Closed || state == breaker.HalfOpen

	body := fiber.Map{
		"websocket":       "up",
		"circuit_breaker": state.String(),
		"log_backend":     d.emitterConnected(),
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

func (d *Dispatcher) emitterConnected() bool {
	if d.em == nil {
		return false
	}
	return d.em.Connected()
}

// handleMetricsPrometheus serves the Prometheus exposition format for
// scrapers, alongside the JSON shape spec.md §4.4 defines as the canonical
// /metrics contract.
func (d *Dispatcher) handleMetricsPrometheus(c *fiber.Ctx) error {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	handler(c.Context())
	return nil
}

// handleMetricsJSON reports the breaker/emitter/connection summary that
// spec.md §4.4 describes ("JSON with breaker state and failure count; log
// backend connected flag, stream length, last stream id; and active
// connection count").
func (d *Dispatcher) handleMetricsJSON(c *fiber.Ctx) error {
	body := fiber.Map{
		"circuit_breaker": fiber.Map{
			"state":         d.brk.State().String(),
			"failure_count": d.brk.FailureCount(),
		},
		"active_connections": atomic.LoadInt64(&d.activeConns),
	}

	if d.em != nil {
		body["log_backend_connected"] = d.em.Connected()
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if stats, err := d.em.StreamStats(ctx); err == nil {
			body["log_backend_stream_length"] = stats.Length
			body["log_backend_last_id"] = stats.LastID
		}
	} else {
		body["log_backend_connected"] = false
	}

	return c.Status(fiber.StatusOK).JSON(body)
}
