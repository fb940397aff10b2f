package smpp

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/praekeltfoundation/vumigo/connector"
	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/failures"
	"github.com/praekeltfoundation/vumigo/kvstore"
	"github.com/praekeltfoundation/vumigo/message"
	"github.com/praekeltfoundation/vumigo/metric"
)

// Store key layout
func sequenceKey(seq uint32) string {
	return "sequence_number:" + strconv.FormatUint(uint64(seq), 10)
}

func remoteMessageKey(remoteID string) string {
	return "remote_message:" + remoteID
}

func messageKey(messageID string) string {
	return "message:" + messageID
}

func messagePartsKey(messageID string) string {
	return "message_parts:" + messageID
}

// Engine drives the outbound side of one SMPP-style transport: it consumes
// the transport's outbound sub-stream, submits messages on the wire, and
// turns the peer's asynchronous responses into acks, nacks, delivery
// reports and ledger entries.
type Engine struct {
	cfg    Config
	store  kvstore.Store
	wire   WireProtocol
	conn   *connector.Connector
	ledger *failures.Ledger
	logger *slog.Logger

	metrics *metric.Metrics

	throttled atomic.Bool

	// afterFunc is swappable so throttle-retry timing is testable
	afterFunc func(d time.Duration, f func()) *time.Timer

	// onResolved, when set, is called once per message after its terminal
	// ack or nack has been published
	onResolved func(ctx context.Context, messageID string)
}

// NewEngine creates a correlation engine. conn is the transport-side
// connector: the engine registers its outbound handler on it and publishes
// inbound messages and events through it. ledger may be nil to disable
// failure recording.
func NewEngine(store kvstore.Store, cfg Config, wire WireProtocol, conn *connector.Connector, ledger *failures.Ledger, logger *slog.Logger, registry *metric.MetricsRegistry) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if wire == nil || conn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Engine", "NewEngine", "wire protocol and connector presence")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		wire:      wire,
		conn:      conn,
		ledger:    ledger,
		logger:    logger.With("transport", cfg.TransportName),
		afterFunc: time.AfterFunc,
	}
	if registry != nil {
		e.metrics = registry.CoreMetrics()
	}
	return e, nil
}

// SetResolvedHook registers a callback invoked after a message reaches a
// terminal ack or nack. Must be called before Start.
func (e *Engine) SetResolvedHook(f func(ctx context.Context, messageID string)) {
	e.onResolved = f
}

// Start registers the outbound handler and begins consuming
func (e *Engine) Start() error {
	e.conn.SetOutboundHandler(e.HandleOutboundMessage)
	return e.conn.Start()
}

// Stop stops consuming
func (e *Engine) Stop() error {
	return e.conn.Stop()
}

// Throttled reports whether the engine is currently throttled by the peer
func (e *Engine) Throttled() bool {
	return e.throttled.Load()
}

// HandleOutboundMessage validates and submits one outbound message. It
// always returns nil: every outcome is expressed as an ack, a nack or a
// ledger entry, never as a bus-level redelivery loop.
func (e *Engine) HandleOutboundMessage(ctx context.Context, msg *message.TransportMessage) error {
	if err := msg.Validate(); err != nil {
		e.logger.Warn("nacking invalid outbound message",
			"message_id", msg.MessageID, "error", err)
		e.publishNack(ctx, msg.MessageID, "missing required fields")
		return nil
	}

	// Cache the full message before anything reaches the wire, so a
	// response racing the submission can always resolve it
	if err := e.cacheMessage(ctx, msg); err != nil {
		e.logger.Error("message cache write failed",
			"message_id", msg.MessageID, "error", err)
	}

	record := func(ctx context.Context, seq uint32) error {
		return e.store.SetWithTTL(ctx, sequenceKey(seq), msg.MessageID, e.cfg.SubmitTTL)
	}
	seqs, err := e.wire.Submit(ctx, SubmitPayload{
		Destination: msg.To,
		Source:      msg.From,
		Content:     msg.Content,
		Strategy:    e.cfg.Strategy(),
	}, record)
	if err != nil || len(seqs) == 0 {
		e.logger.Error("wire submission failed",
			"message_id", msg.MessageID, "error", err)
		e.publishNack(ctx, msg.MessageID, "submission failed")
		e.recordFailure(ctx, msg, "submission failed", failures.FailurePermanent)
		e.clearMessage(ctx, msg.MessageID)
		return nil
	}

	if err := e.recordParts(ctx, msg.MessageID, len(seqs)); err != nil {
		e.logger.Error("part counter write failed",
			"message_id", msg.MessageID, "error", err)
	}
	// Settle parts whose responses beat the counter write
	if err := e.finishIfComplete(ctx, msg.MessageID); err != nil {
		e.logger.Error("part resolution check failed",
			"message_id", msg.MessageID, "error", err)
	}

	e.logger.Debug("submitted message",
		"message_id", msg.MessageID, "parts", len(seqs))
	return nil
}

func (e *Engine) cacheMessage(ctx context.Context, msg *message.TransportMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := e.store.SetWithTTL(ctx, messageKey(msg.MessageID), string(data), e.cfg.MessageTTL); err != nil {
		return errors.WrapTransient(err, "Engine", "cacheMessage", "message cache write")
	}
	return nil
}

// recordParts publishes the part count once every PDU has been handed to
// the wire. Responses arriving before this write leave their increments in
// the hash; finishIfComplete settles them.
func (e *Engine) recordParts(ctx context.Context, messageID string, parts int) error {
	partsKey := messagePartsKey(messageID)
	err := e.store.HSet(ctx, partsKey, map[string]string{
		"total": strconv.Itoa(parts),
	})
	if err != nil {
		return errors.WrapTransient(err, "Engine", "recordParts", "part counter write")
	}
	return e.store.Expire(ctx, partsKey, e.cfg.MessageTTL)
}

func (e *Engine) clearMessage(ctx context.Context, messageID string) {
	for _, key := range []string{messageKey(messageID), messagePartsKey(messageID)} {
		if err := e.store.Delete(ctx, key); err != nil {
			e.logger.Error("message cache cleanup failed", "key", key, "error", err)
		}
	}
}

// OnSubmitResponse correlates one wire response back to its message and
// dispatches on the peer's status. Unknown sequence numbers are logged and
// dropped.
func (e *Engine) OnSubmitResponse(ctx context.Context, seq uint32, remoteID string, status SubmitStatus) error {
	messageID, err := e.store.Get(ctx, sequenceKey(seq))
	if stderrors.Is(err, kvstore.ErrNotFound) {
		e.logger.Warn("uncorrelatable submit response",
			"sequence_number", seq, "status", string(status))
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "Engine", "OnSubmitResponse", "sequence lookup")
	}
	if err := e.store.Delete(ctx, sequenceKey(seq)); err != nil {
		e.logger.Error("sequence mapping cleanup failed",
			"sequence_number", seq, "error", err)
	}

	if remoteID != "" {
		if err := e.store.SetWithTTL(ctx, remoteMessageKey(remoteID), messageID, e.cfg.RemoteIDTTL); err != nil {
			e.logger.Error("remote mapping write failed",
				"message_id", messageID, "remote_id", remoteID, "error", err)
		}
	}

	switch status {
	case SubmitOK:
		e.stopThrottling()
		return e.resolvePart(ctx, messageID, remoteID, false, "")
	case SubmitThrottled, SubmitQueueFull:
		e.startThrottling()
		e.scheduleThrottleRetry(messageID)
		return nil
	default:
		return e.resolvePart(ctx, messageID, remoteID, true, string(status))
	}
}

// resolvePart records one part's outcome and, when it is the last part to
// resolve, emits the parent's single ack or nack. The resolved counter is
// an atomic store increment, so exactly one response observes the final
// count even when parts race across processes.
func (e *Engine) resolvePart(ctx context.Context, messageID, remoteID string, failed bool, reason string) error {
	partsKey := messagePartsKey(messageID)

	if failed {
		if _, err := e.store.HIncrBy(ctx, partsKey, "failed", 1); err != nil {
			return errors.WrapTransient(err, "Engine", "resolvePart", "failed counter")
		}
	}
	resolved, err := e.store.HIncrBy(ctx, partsKey, "resolved", 1)
	if err != nil {
		return errors.WrapTransient(err, "Engine", "resolvePart", "resolved counter")
	}

	totalField, err := e.store.HGet(ctx, partsKey, "total")
	if stderrors.Is(err, kvstore.ErrNotFound) {
		// Submission still in flight; the count lands after the last
		// PDU and the submitter settles outstanding increments
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "Engine", "resolvePart", "total lookup")
	}
	total, _ := strconv.ParseInt(totalField, 10, 64)
	if resolved < total {
		return nil
	}

	return e.finalize(ctx, messageID, remoteID, reason)
}

// finishIfComplete settles a message whose part responses all arrived
// before the part count was written.
func (e *Engine) finishIfComplete(ctx context.Context, messageID string) error {
	partsKey := messagePartsKey(messageID)

	resolvedField, err := e.store.HGet(ctx, partsKey, "resolved")
	if stderrors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "Engine", "finishIfComplete", "resolved lookup")
	}
	totalField, err := e.store.HGet(ctx, partsKey, "total")
	if stderrors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "Engine", "finishIfComplete", "total lookup")
	}

	resolved, _ := strconv.ParseInt(resolvedField, 10, 64)
	total, _ := strconv.ParseInt(totalField, 10, 64)
	if total == 0 || resolved < total {
		return nil
	}
	return e.finalize(ctx, messageID, "", "")
}

// finalize publishes the terminal event for a fully resolved message.
// The done counter guards against the submitter and a response handler
// both reaching this point.
func (e *Engine) finalize(ctx context.Context, messageID, remoteID, reason string) error {
	partsKey := messagePartsKey(messageID)

	done, err := e.store.HIncrBy(ctx, partsKey, "done", 1)
	if err != nil {
		return errors.WrapTransient(err, "Engine", "finalize", "done counter")
	}
	if done != 1 {
		return nil
	}

	failedField, err := e.store.HGet(ctx, partsKey, "failed")
	var failedCount int64
	if err == nil {
		failedCount, _ = strconv.ParseInt(failedField, 10, 64)
	} else if !stderrors.Is(err, kvstore.ErrNotFound) {
		return errors.WrapTransient(err, "Engine", "finalize", "failed lookup")
	}

	if failedCount == 0 {
		e.publishAck(ctx, messageID, remoteID)
	} else {
		if reason == "" {
			reason = "partial submission failure"
		}
		e.publishNack(ctx, messageID, reason)
		if msg := e.loadCachedMessage(ctx, messageID); msg != nil {
			e.recordFailure(ctx, msg, reason, failures.FailurePermanent)
		}
	}
	e.clearMessage(ctx, messageID)
	return nil
}

// OnDeliveryReport correlates a remote ID back to a message and publishes
// a delivery-report event. Unknown remote IDs are logged and dropped.
func (e *Engine) OnDeliveryReport(ctx context.Context, remoteID, status string) error {
	messageID, err := e.store.Get(ctx, remoteMessageKey(remoteID))
	if stderrors.Is(err, kvstore.ErrNotFound) {
		e.logger.Warn("uncorrelatable delivery report",
			"remote_id", remoteID, "status", status)
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "Engine", "OnDeliveryReport", "remote lookup")
	}

	report := message.NewDeliveryReport(messageID, deliveryStatus(status))
	report.TransportName = e.cfg.TransportName
	if err := e.conn.PublishEvent(ctx, report); err != nil {
		return err
	}
	e.logger.Debug("published delivery report",
		"message_id", messageID, "remote_id", remoteID, "status", status)
	return nil
}

// deliveryStatus maps the peer's message-state strings onto event statuses
func deliveryStatus(status string) string {
	switch strings.ToUpper(status) {
	case "DELIVRD", "DELIVERED":
		return message.DeliveryStatusDelivered
	case "REJECTD", "UNDELIV", "EXPIRED", "DELETED", "FAILED":
		return message.DeliveryStatusFailed
	default:
		return message.DeliveryStatusPending
	}
}

// OnInboundMessage publishes a mobile-originated message up the inbound
// sub-stream.
func (e *Engine) OnInboundMessage(ctx context.Context, source, destination, content string) error {
	msg := message.NewTransportMessage(source, destination, content)
	msg.TransportName = e.cfg.TransportName
	msg.TransportType = "sms"
	return e.conn.PublishInbound(ctx, msg)
}

// startThrottling pauses outbound consumption so the bus buffers traffic
func (e *Engine) startThrottling() {
	if e.throttled.Swap(true) {
		return
	}
	e.conn.Pause()
	if e.metrics != nil {
		e.metrics.ThrottleState.WithLabelValues(e.cfg.TransportName).Set(1)
	}
	e.logger.Warn("peer throttling started, outbound paused")
}

// stopThrottling resumes outbound consumption on any successful response
func (e *Engine) stopThrottling() {
	if !e.throttled.Swap(false) {
		return
	}
	e.conn.Unpause()
	if e.metrics != nil {
		e.metrics.ThrottleState.WithLabelValues(e.cfg.TransportName).Set(0)
	}
	e.logger.Info("peer throttling ended, outbound resumed")
}

// scheduleThrottleRetry re-submits a throttled message after the
// configured delay. The retry bypasses the failure ledger: throttling is a
// short-lived peer condition, not a message fault.
func (e *Engine) scheduleThrottleRetry(messageID string) {
	e.afterFunc(e.cfg.ThrottleDelay, func() {
		ctx := context.Background()
		msg := e.loadCachedMessage(ctx, messageID)
		if msg == nil {
			e.logger.Warn("throttled message no longer cached, dropping retry",
				"message_id", messageID)
			return
		}
		e.clearMessage(ctx, messageID)
		if err := e.HandleOutboundMessage(ctx, msg); err != nil {
			e.logger.Error("throttle retry failed",
				"message_id", messageID, "error", err)
		}
	})
}

func (e *Engine) loadCachedMessage(ctx context.Context, messageID string) *message.TransportMessage {
	data, err := e.store.Get(ctx, messageKey(messageID))
	if err != nil {
		return nil
	}
	msg, err := message.DecodeMessage([]byte(data))
	if err != nil {
		e.logger.Error("cached message undecodable",
			"message_id", messageID, "error", err)
		return nil
	}
	return msg
}

func (e *Engine) publishAck(ctx context.Context, messageID, remoteID string) {
	ack := message.NewAck(messageID, remoteID)
	ack.TransportName = e.cfg.TransportName
	if err := e.conn.PublishEvent(ctx, ack); err != nil {
		e.logger.Error("ack publish failed", "message_id", messageID, "error", err)
	}
	if e.onResolved != nil {
		e.onResolved(ctx, messageID)
	}
}

func (e *Engine) publishNack(ctx context.Context, messageID, reason string) {
	nack := message.NewNack(messageID, reason)
	nack.TransportName = e.cfg.TransportName
	if err := e.conn.PublishEvent(ctx, nack); err != nil {
		e.logger.Error("nack publish failed", "message_id", messageID, "error", err)
	}
	if e.onResolved != nil {
		e.onResolved(ctx, messageID)
	}
}

func (e *Engine) recordFailure(ctx context.Context, msg *message.TransportMessage, reason string, class failures.Classification) {
	if e.ledger == nil {
		return
	}
	if _, err := e.ledger.RecordFailure(ctx, msg, reason, class); err != nil {
		e.logger.Error("failure recording failed",
			"message_id", msg.MessageID, "error", err)
	}
}
