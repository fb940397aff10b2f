package failures

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/kvstore"
	"github.com/praekeltfoundation/vumigo/message"
	"github.com/praekeltfoundation/vumigo/metric"
	"github.com/praekeltfoundation/vumigo/pkg/retry"
)

// Classification decides whether a failure is retried or terminal
type Classification string

const (
	// FailureTemporary failures are scheduled for automatic retry
	FailureTemporary Classification = "temporary"
	// FailurePermanent failures are recorded for operator inspection only
	FailurePermanent Classification = "permanent"
)

// Config holds failure ledger configuration
type Config struct {
	// Name identifies the transport or worker this ledger serves
	Name string `json:"name"`
	// Granularity of retry bucket timestamps
	Granularity time.Duration `json:"granularity"`
	// DeliveryPeriod between retry delivery sweeps
	DeliveryPeriod time.Duration `json:"delivery_period"`
	// Backoff governs per-message retry delay growth
	Backoff retry.Config `json:"-"`
}

// Validate checks the ledger configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"failures.Config", "Validate", "name must be set")
	}
	if c.Granularity <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"failures.Config", "Validate", "granularity must be positive")
	}
	if c.DeliveryPeriod <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"failures.Config", "Validate", "delivery_period must be positive")
	}
	return nil
}

// DefaultConfig returns sensible ledger defaults
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		Granularity:    5 * time.Second,
		DeliveryPeriod: 3 * time.Second,
		Backoff: retry.Config{
			InitialDelay: time.Minute,
			MaxDelay:     time.Hour,
			Multiplier:   3,
		},
	}
}

// Record is a stored failure
type Record struct {
	Message    []byte
	Reason     string
	RetryDelay time.Duration
}

// PublishFunc re-publishes a stored message to the retry output
type PublishFunc func(ctx context.Context, data []byte) error

// Store key layout
const (
	failureKeysKey     = "failure_keys"
	retryTimestampsKey = "retry_timestamps"
)

func retryBucketKey(ts int64) string {
	return "retry_keys." + strconv.FormatInt(ts, 10)
}

// Ledger records failures in the key-value store and drives retry delivery
type Ledger struct {
	store   kvstore.Store
	cfg     Config
	publish PublishFunc
	logger  *slog.Logger

	metrics *metric.Metrics

	// now is swappable for scheduling tests
	now func() time.Time
}

// NewLedger creates a failure ledger over the given store. publish is the
// retry output; it may be nil when delivery is driven externally.
func NewLedger(store kvstore.Store, cfg Config, publish PublishFunc, logger *slog.Logger, registry *metric.MetricsRegistry) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Ledger{
		store:   store,
		cfg:     cfg,
		publish: publish,
		logger:  logger.With("ledger", cfg.Name),
		now:     time.Now,
	}
	if registry != nil {
		l.metrics = registry.CoreMetrics()
	}
	return l, nil
}

// SetClock replaces the ledger's time source. Test helper.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// failureKey generates a globally-unique key that sorts by creation time
func (l *Ledger) failureKey() string {
	ts := l.now().UTC().Format("2006-01-02T15:04:05.000000")
	return "failure." + ts + "." + uuid.NewString()
}

// StoreFailure persists a failure record and indexes it. A positive
// retryDelay additionally schedules the key for retry delivery. Store
// errors here are fatal for the message: the ledger is the last stop, and
// losing an entry must surface loudly.
func (l *Ledger) StoreFailure(ctx context.Context, msg []byte, reason string, retryDelay time.Duration) (string, error) {
	key := l.failureKey()

	fields := map[string]string{
		"message":     string(msg),
		"reason":      reason,
		"retry_delay": strconv.FormatInt(int64(retryDelay.Seconds()), 10),
	}
	if err := l.store.HSet(ctx, key, fields); err != nil {
		return "", errors.WrapFatal(err, "Ledger", "StoreFailure", "failure record write")
	}
	if err := l.store.SAdd(ctx, failureKeysKey, key); err != nil {
		return "", errors.WrapFatal(err, "Ledger", "StoreFailure", "failure index update")
	}

	kind := FailurePermanent
	if retryDelay > 0 {
		kind = FailureTemporary
		if err := l.scheduleRetry(ctx, key, retryDelay); err != nil {
			return "", err
		}
	}
	if l.metrics != nil {
		l.metrics.FailuresStored.WithLabelValues(l.cfg.Name, string(kind)).Inc()
	}
	l.logger.Info("stored failure",
		"failure_key", key, "reason", reason, "kind", string(kind))
	return key, nil
}

// GetFailure loads a stored failure record
func (l *Ledger) GetFailure(ctx context.Context, failureKey string) (*Record, error) {
	fields, err := l.store.HGetAll(ctx, failureKey)
	if err != nil {
		return nil, errors.WrapTransient(err, "Ledger", "GetFailure", "record load")
	}
	if len(fields) == 0 {
		return nil, errors.WrapInvalid(kvstore.ErrNotFound,
			"Ledger", "GetFailure", "record lookup for "+failureKey)
	}

	delaySecs, _ := strconv.ParseInt(fields["retry_delay"], 10, 64)
	return &Record{
		Message:    []byte(fields["message"]),
		Reason:     fields["reason"],
		RetryDelay: time.Duration(delaySecs) * time.Second,
	}, nil
}

// FailureKeys lists all stored failure keys
func (l *Ledger) FailureKeys(ctx context.Context) ([]string, error) {
	keys, err := l.store.SMembers(ctx, failureKeysKey)
	if err != nil {
		return nil, errors.WrapTransient(err, "Ledger", "FailureKeys", "index read")
	}
	return keys, nil
}

// retryTimestamp rounds a due time up to the next bucket boundary. A due
// time already on a boundary is bumped to the following one, so an entry
// is never due before now + delay.
func (l *Ledger) retryTimestamp(due time.Time) int64 {
	g := int64(l.cfg.Granularity.Seconds())
	ts := due.Unix()
	return ts + g - (ts % g)
}

func (l *Ledger) scheduleRetry(ctx context.Context, failureKey string, delay time.Duration) error {
	ts := l.retryTimestamp(l.now().Add(delay))

	if err := l.store.SAdd(ctx, retryBucketKey(ts), failureKey); err != nil {
		return errors.WrapFatal(err, "Ledger", "scheduleRetry", "bucket update")
	}

	member := strconv.FormatInt(ts, 10)
	_, err := l.store.ZScore(ctx, retryTimestampsKey, member)
	if stderrors.Is(err, kvstore.ErrNotFound) {
		err = l.store.ZAdd(ctx, retryTimestampsKey, kvstore.ScoredMember{
			Member: member,
			Score:  float64(ts),
		})
	}
	if err != nil {
		return errors.WrapFatal(err, "Ledger", "scheduleRetry", "time index update")
	}
	return nil
}

// GetNextRetryKey pops one due failure key, or returns "" when nothing is
// due. A bucket emptied by the pop is dropped from the time index.
func (l *Ledger) GetNextRetryKey(ctx context.Context) (string, error) {
	for {
		earliest, err := l.store.ZRangeWithScores(ctx, retryTimestampsKey, 0, 0)
		if err != nil {
			return "", errors.WrapTransient(err, "Ledger", "GetNextRetryKey", "time index read")
		}
		if len(earliest) == 0 || int64(earliest[0].Score) > l.now().Unix() {
			return "", nil
		}

		ts := int64(earliest[0].Score)
		bucket := retryBucketKey(ts)

		key, err := l.store.SPop(ctx, bucket)
		if stderrors.Is(err, kvstore.ErrEmpty) || stderrors.Is(err, kvstore.ErrNotFound) {
			// Stale index entry; drop it and look at the next bucket.
			if err := l.store.ZRem(ctx, retryTimestampsKey, earliest[0].Member); err != nil {
				return "", errors.WrapTransient(err, "Ledger", "GetNextRetryKey", "stale bucket cleanup")
			}
			continue
		}
		if err != nil {
			return "", errors.WrapTransient(err, "Ledger", "GetNextRetryKey", "bucket pop")
		}

		remaining, err := l.store.SCard(ctx, bucket)
		if err != nil {
			return "", errors.WrapTransient(err, "Ledger", "GetNextRetryKey", "bucket size check")
		}
		if remaining == 0 {
			if err := l.store.ZRem(ctx, retryTimestampsKey, earliest[0].Member); err != nil {
				return "", errors.WrapTransient(err, "Ledger", "GetNextRetryKey", "empty bucket cleanup")
			}
		}
		return key, nil
	}
}

// NextRetryDelay computes the backoff delay following another failure of a
// message whose current delay is given.
func (l *Ledger) NextRetryDelay(current time.Duration) time.Duration {
	return l.cfg.Backoff.NextDelay(current)
}

// RecordFailure stores a message-level failure. Temporary failures get
// their retry metadata advanced (retries incremented, delay grown by the
// backoff policy) and are scheduled; anything else is terminal.
func (l *Ledger) RecordFailure(ctx context.Context, msg *message.TransportMessage, reason string, class Classification) (string, error) {
	var delay time.Duration
	if class == FailureTemporary {
		delay = l.advanceRetryMetadata(msg)
	}

	data, err := msg.Encode()
	if err != nil {
		return "", err
	}
	return l.StoreFailure(ctx, data, reason, delay)
}

const retryMetadataKey = "retry_metadata"

// RetryMetadata tracks a message's retry history across ledger round trips
type RetryMetadata struct {
	Retries int           `json:"retries"`
	Delay   time.Duration `json:"-"`
}

// GetRetryMetadata reads a message's retry metadata, zero-valued when absent
func GetRetryMetadata(msg *message.TransportMessage) RetryMetadata {
	raw, ok := msg.HelperMeta[retryMetadataKey].(map[string]any)
	if !ok {
		return RetryMetadata{}
	}
	return RetryMetadata{
		Retries: intField(raw, "retries"),
		Delay:   time.Duration(intField(raw, "delay")) * time.Second,
	}
}

// intField tolerates both int and float64, which json decoding produces
func intField(m map[string]any, field string) int {
	switch v := m[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (l *Ledger) advanceRetryMetadata(msg *message.TransportMessage) time.Duration {
	meta := GetRetryMetadata(msg)
	next := l.NextRetryDelay(meta.Delay)

	if msg.HelperMeta == nil {
		msg.HelperMeta = make(map[string]any)
	}
	msg.HelperMeta[retryMetadataKey] = map[string]any{
		"retries": meta.Retries + 1,
		"delay":   int(next.Seconds()),
	}
	return next
}
