package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/metrics"
	"github.com/yoockh/yoochat/internal/notify"
	"github.com/yoockh/yoochat/internal/streaming"
)

const (
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	maxFrameBytes = 1 << 20
)

// Dispatcher receives demultiplexed stream events. The registry implements it.
type Dispatcher interface {
	AppendChunk(streamID, fragment string) error
	Complete(ctx context.Context, streamID string) error
	Error(streamID, message string)
	LookupUserID(streamID string) (string, bool)
}

type IngesterConfig struct {
	URL              string
	Token            string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

// Ingester owns the single inbound push connection from the agent. All
// frames are dispatched from one goroutine, which keeps chunks of a stream
// in delivery order. Do not fan dispatch out to workers.
type Ingester struct {
	cfg        IngesterConfig
	dialer     *websocket.Dialer
	dispatcher Dispatcher
	notifier   notify.Notifier
	health     *HealthMonitor
	log        *logrus.Entry
}

func NewIngester(cfg IngesterConfig, dispatcher Dispatcher, notifier notify.Notifier, health *HealthMonitor, l *logrus.Logger) *Ingester {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Ingester{
		cfg:        cfg,
		dialer:     &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		dispatcher: dispatcher,
		notifier:   notifier,
		health:     health,
		log:        logger.Component(l, "agent_ingester"),
	}
}

// Run keeps one connection open until ctx is done. Every drop or failed dial
// is followed by the reconnect delay; the loop never recurses. CONNECTING is
// announced once per outage, not on every retry.
func (in *Ingester) Run(ctx context.Context) {
	for attempt := 1; ctx.Err() == nil; attempt++ {
		if attempt == 1 {
			in.health.SetStatus(StatusConnecting)
		}

		conn, err := in.dial(ctx)
		if err != nil {
			in.health.SetStatus(StatusDisconnected)
			in.log.WithError(err).WithField("attempt", attempt).Warn("agent stream dial failed")
		} else {
			attempt = 0
			in.health.SetStatus(StatusConnected)
			in.log.WithField("url", in.cfg.URL).Info("agent stream connected")

			err = in.readLoop(ctx, conn)
			in.health.SetStatus(StatusDisconnected)
			if ctx.Err() != nil {
				return
			}
			in.log.WithError(err).Warn("agent stream dropped")
		}

		t := time.NewTimer(in.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (in *Ingester) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if in.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+in.cfg.Token)
	}
	conn, _, err := in.dialer.DialContext(ctx, in.cfg.URL, header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

func (in *Ingester) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		in.Dispatch(ctx, data)
	}
}

// Dispatch parses one frame and routes it by event kind. Bad frames are
// logged and, when the stream's user is known, reported to that user; they
// never tear down the connection.
func (in *Ingester) Dispatch(ctx context.Context, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			in.log.WithField("panic", rec).Error("agent frame dispatch panicked")
		}
	}()

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		metrics.IngestedEvents.WithLabelValues("invalid").Inc()
		in.log.WithError(err).Warn("unparseable agent frame")
		return
	}

	streamID := strings.TrimSpace(f.StreamID)
	if streamID == "" {
		metrics.IngestedEvents.WithLabelValues("invalid").Inc()
		in.parseFailure(f.StreamID, "missing stream_id")
		return
	}

	switch f.Type {
	case EventStream:
		metrics.IngestedEvents.WithLabelValues(EventStream).Inc()
		if err := in.dispatcher.AppendChunk(streamID, f.Content); err != nil {
			if errors.Is(err, streaming.ErrSessionNotFound) {
				metrics.LateEvents.WithLabelValues(EventStream).Inc()
				in.log.WithField("stream_id", streamID).Debug("chunk for inactive stream dropped")
				return
			}
			in.log.WithError(err).WithField("stream_id", streamID).Warn("append chunk failed")
		}

	case EventDone:
		metrics.IngestedEvents.WithLabelValues(EventDone).Inc()
		if err := in.dispatcher.Complete(ctx, streamID); err != nil {
			fields := logrus.Fields{"stream_id": streamID}
			var fe *streaming.FinalizeError
			if errors.As(err, &fe) {
				fields["user_id"] = fe.UserID
				fields["chars"] = len(fe.Text)
			}
			in.log.WithError(err).WithFields(fields).Error("stream completion failed")
		}

	case EventError:
		metrics.IngestedEvents.WithLabelValues(EventError).Inc()
		msg := f.Message
		if msg == "" {
			msg = f.Content
		}
		in.dispatcher.Error(streamID, msg)

	default:
		metrics.IngestedEvents.WithLabelValues("unknown").Inc()
		in.parseFailure(streamID, "unknown event type "+f.Type)
	}
}

func (in *Ingester) parseFailure(streamID, reason string) {
	entry := in.log.WithFields(logrus.Fields{"stream_id": streamID, "reason": reason})
	userID, ok := in.dispatcher.LookupUserID(streamID)
	if !ok {
		entry.Warn("rejected agent frame")
		return
	}
	entry.WithField("user_id", userID).Warn("rejected agent frame, notifying user")
	in.notifier.PushError(userID, notify.ErrStreamParseFailure)
}
