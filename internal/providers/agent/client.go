package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/metrics"
	"github.com/yoockh/yoochat/internal/notify"
	"github.com/yoockh/yoochat/internal/utils"
)

const (
	OpSubmitTurn  = "submit_turn"
	OpRequestStop = "request_stop"

	maxResponseBody = 64 << 10
)

type ClientConfig struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration // total budget per request, retries included
	MaxRetries     int
	RetryBackoff   time.Duration
	Workers        int
	QueueSize      int
}

// Failure describes an outbound request that failed for good.
type Failure struct {
	Op       string
	Kind     notify.ErrorKind
	UserID   string
	StreamID string
	Err      error
}

type FailureHandler func(Failure)

// UserResolver maps a stream id back to its owning user.
type UserResolver interface {
	LookupUserID(streamID string) (string, bool)
}

type job struct {
	op       string
	path     string
	body     any
	userID   string
	streamID string
}

// Client sends turns and stop requests to the agent from its own small
// worker pool, so slow agent calls never hold up the caller or the ingester.
type Client struct {
	cfg       ClientConfig
	http      *http.Client
	health    *HealthMonitor
	resolver  UserResolver
	onFailure FailureHandler
	log       *logrus.Entry

	jobs   chan job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClient(cfg ClientConfig, health *HealthMonitor, resolver UserResolver, onFailure FailureHandler, l *logrus.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if onFailure == nil {
		onFailure = func(Failure) {}
	}
	return &Client{
		cfg:       cfg,
		http:      &http.Client{},
		health:    health,
		resolver:  resolver,
		onFailure: onFailure,
		log:       logger.Component(l, "agent_gateway"),
		jobs:      make(chan job, cfg.QueueSize),
	}
}

// SetHealth wires the monitor after construction; the monitor itself probes
// through this client.
func (c *Client) SetHealth(h *HealthMonitor) { c.health = h }

func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
}

func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// SubmitTurn queues p for delivery. It fails fast when the agent is
// unavailable; later failures reach the FailureHandler.
func (c *Client) SubmitTurn(p TurnPayload) error {
	const op = "AgentClient.SubmitTurn"

	if p.StreamID == "" || p.UserID == "" || strings.TrimSpace(p.Message) == "" {
		return utils.E(utils.CodeInvalidArgument, op, "stream_id, user_id and message are required", nil)
	}
	return c.enqueue(op, job{op: OpSubmitTurn, path: "/chat", body: p, userID: p.UserID, streamID: p.StreamID})
}

// RequestStop asks the agent to stop producing chunks for userID.
func (c *Client) RequestStop(userID string) error {
	const op = "AgentClient.RequestStop"

	if userID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	return c.enqueue(op, job{op: OpRequestStop, path: "/chat/stop", body: stopRequest{UserID: userID}, userID: userID})
}

// Ping is the health probe call.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) enqueue(op string, j job) error {
	if c.health != nil && !c.health.IsAvailable() {
		return utils.E(utils.CodeUnavailable, op, "agent unavailable", ErrAgentUnavailable)
	}
	select {
	case c.jobs <- j:
		return nil
	default:
		return utils.E(utils.CodeUnavailable, op, "agent request queue is full", nil)
	}
}

func (c *Client) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-c.jobs:
			c.process(ctx, j)
		}
	}
}

func (c *Client) process(ctx context.Context, j job) {
	err := c.doWithRetry(ctx, j)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// shutting down
		return
	}

	userID := j.userID
	if j.streamID != "" && c.resolver != nil {
		if uid, ok := c.resolver.LookupUserID(j.streamID); ok {
			userID = uid
		}
	}
	kind := Classify(err)
	metrics.GatewayFailures.WithLabelValues(j.op, string(kind)).Inc()
	c.log.WithError(err).WithFields(logrus.Fields{
		"op":        j.op,
		"kind":      kind,
		"user_id":   userID,
		"stream_id": j.streamID,
	}).Warn("agent request failed")

	c.onFailure(Failure{Op: j.op, Kind: kind, UserID: userID, StreamID: j.streamID, Err: err})
}

func (c *Client) doWithRetry(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		err := c.send(ctx, j)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
			return err
		}

		metrics.GatewayRetries.WithLabelValues(j.op).Inc()
		c.log.WithError(err).WithFields(logrus.Fields{"op": j.op, "attempt": attempt + 1}).Debug("retrying agent request")

		t := time.NewTimer(c.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-t.C:
		}
	}
}

func (c *Client) send(ctx context.Context, j job) error {
	body, err := json.Marshal(j.body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+j.path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

// StatusError is a non-2xx agent response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("agent responded %d", e.Code) }

// Retryable reports whether err belongs to the transient class: connectivity,
// DNS, timeouts and agent internal errors (5xx).
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Classify maps a final error to its user-facing kind.
func Classify(err error) notify.ErrorKind {
	if errors.Is(err, ErrAgentUnavailable) {
		return notify.ErrAgentUnavailable
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code >= 500 {
			return notify.ErrInternalError
		}
		return notify.ErrClientError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return notify.ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return notify.ErrTimeout
		}
		return notify.ErrConnectionFailed
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return notify.ErrConnectionFailed
	}
	return notify.ErrInternalError
}
