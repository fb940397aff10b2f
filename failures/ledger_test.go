package failures

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/kvstore"
	"github.com/praekeltfoundation/vumigo/message"
	"github.com/praekeltfoundation/vumigo/pkg/retry"
)

func testConfig() Config {
	return Config{
		Name:           "smpp_transport",
		Granularity:    5 * time.Second,
		DeliveryPeriod: 3 * time.Second,
		Backoff: retry.Config{
			InitialDelay: time.Minute,
			MaxDelay:     10 * time.Minute,
			Multiplier:   3,
		},
	}
}

func newTestLedger(t *testing.T, publish PublishFunc) (*Ledger, *time.Time) {
	t.Helper()
	ledger, err := NewLedger(kvstore.NewMemoryStore(), testConfig(), publish, nil, nil)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	ledger.SetClock(func() time.Time { return now })
	return ledger, &now
}

func TestStoreFailureRoundTrip(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, nil)

	key, err := ledger.StoreFailure(ctx, []byte(`{"content":"hi"}`), "smsc rejected", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "failure."))

	record, err := ledger.GetFailure(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"content":"hi"}`, string(record.Message))
	assert.Equal(t, "smsc rejected", record.Reason)
	assert.Zero(t, record.RetryDelay)

	keys, err := ledger.FailureKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestGetFailureMissing(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t, nil)

	_, err := ledger.GetFailure(ctx, "failure.nope")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestFailureKeysSortByTime(t *testing.T) {
	ctx := context.Background()
	ledger, now := newTestLedger(t, nil)

	first, err := ledger.StoreFailure(ctx, []byte("a"), "r", 0)
	require.NoError(t, err)
	*now = now.Add(time.Second)
	second, err := ledger.StoreFailure(ctx, []byte("b"), "r", 0)
	require.NoError(t, err)

	assert.Less(t, first, second)
}

func TestPermanentFailureNotScheduled(t *testing.T) {
	ctx := context.Background()
	ledger, now := newTestLedger(t, nil)

	_, err := ledger.StoreFailure(ctx, []byte("m"), "bad dest addr", 0)
	require.NoError(t, err)

	*now = now.Add(24 * time.Hour)
	key, err := ledger.GetNextRetryKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestRetryDueness(t *testing.T) {
	ctx := context.Background()
	ledger, now := newTestLedger(t, nil)

	// now = 1000, delay 10s, granularity 5s: due time 1010 on a boundary
	// bumps to bucket 1015
	key, err := ledger.StoreFailure(ctx, []byte("m"), "throttled", 10*time.Second)
	require.NoError(t, err)

	*now = time.Unix(1014, 0)
	got, err := ledger.GetNextRetryKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	*now = time.Unix(1015, 0)
	got, err = ledger.GetNextRetryKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// Exactly once: the key is consumed by the pop
	got, err = ledger.GetNextRetryKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetryBucketOrdering(t *testing.T) {
	ctx := context.Background()
	ledger, now := newTestLedger(t, nil)

	late, err := ledger.StoreFailure(ctx, []byte("m"), "r", time.Minute)
	require.NoError(t, err)
	early, err := ledger.StoreFailure(ctx, []byte("m"), "r", 10*time.Second)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)

	got, err := ledger.GetNextRetryKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, early, got)

	got, err = ledger.GetNextRetryKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, late, got)
}

func TestNextRetryDelayGrowth(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)

	d := ledger.NextRetryDelay(0)
	assert.Equal(t, time.Minute, d)

	d = ledger.NextRetryDelay(d)
	assert.Equal(t, 3*time.Minute, d)

	d = ledger.NextRetryDelay(d)
	assert.Equal(t, 9*time.Minute, d)

	// Capped
	d = ledger.NextRetryDelay(d)
	assert.Equal(t, 10*time.Minute, d)
	d = ledger.NextRetryDelay(d)
	assert.Equal(t, 10*time.Minute, d)
}

func TestRecordFailureTemporaryAdvancesMetadata(t *testing.T) {
	ctx := context.Background()
	ledger, now := newTestLedger(t, nil)

	msg := message.NewTransportMessage("+27831234567", "+27837654321", "hello")
	key, err := ledger.RecordFailure(ctx, msg, "throttled", FailureTemporary)
	require.NoError(t, err)

	meta := GetRetryMetadata(msg)
	assert.Equal(t, 1, meta.Retries)
	assert.Equal(t, time.Minute, meta.Delay)

	record, err := ledger.GetFailure(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, record.RetryDelay)

	// A second failure of the same message grows the delay
	_, err = ledger.RecordFailure(ctx, msg, "throttled", FailureTemporary)
	require.NoError(t, err)
	meta = GetRetryMetadata(msg)
	assert.Equal(t, 2, meta.Retries)
	assert.Equal(t, 3*time.Minute, meta.Delay)

	*now = now.Add(time.Hour)
	got, err := ledger.GetNextRetryKey(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestRecordFailurePermanentIsTerminal(t *testing.T) {
	ctx := context.Background()
	ledger, now := newTestLedger(t, nil)

	msg := message.NewTransportMessage("+27831234567", "+27837654321", "hello")
	_, err := ledger.RecordFailure(ctx, msg, "invalid destination", FailurePermanent)
	require.NoError(t, err)

	assert.Zero(t, GetRetryMetadata(msg).Retries)

	*now = now.Add(time.Hour)
	got, err := ledger.GetNextRetryKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetRetryMetadataFromDecodedMessage(t *testing.T) {
	// json decoding turns the metadata numbers into float64
	msg := &message.TransportMessage{
		HelperMeta: map[string]any{
			"retry_metadata": map[string]any{
				"retries": float64(2),
				"delay":   float64(180),
			},
		},
	}
	meta := GetRetryMetadata(msg)
	assert.Equal(t, 2, meta.Retries)
	assert.Equal(t, 3*time.Minute, meta.Delay)
}

func TestDeliverySweepRepublishesDueMessages(t *testing.T) {
	ctx := context.Background()

	var published []string
	publish := func(ctx context.Context, data []byte) error {
		published = append(published, string(data))
		return nil
	}

	ledger, now := newTestLedger(t, publish)
	delivery, err := NewDelivery(ledger, 2, 10, nil)
	require.NoError(t, err)

	_, err = ledger.StoreFailure(ctx, []byte("retry-me"), "throttled", 10*time.Second)
	require.NoError(t, err)
	_, err = ledger.StoreFailure(ctx, []byte("keep-me"), "permanent", 0)
	require.NoError(t, err)

	// Nothing due yet
	delivery.sweep(ctx)
	assert.Empty(t, published)

	// The pool is not started, so the sweep falls back to synchronous
	// delivery.
	*now = now.Add(time.Minute)
	delivery.sweep(ctx)
	assert.Equal(t, []string{"retry-me"}, published)

	// Consumed exactly once
	delivery.sweep(ctx)
	assert.Equal(t, []string{"retry-me"}, published)
}

func TestDeliverRetriesTransientPublishErrors(t *testing.T) {
	ctx := context.Background()

	var attempts int
	var published []string
	publish := func(ctx context.Context, data []byte) error {
		attempts++
		if attempts < 3 {
			return assert.AnError
		}
		published = append(published, string(data))
		return nil
	}

	ledger, _ := newTestLedger(t, publish)
	delivery, err := NewDelivery(ledger, 1, 1, nil)
	require.NoError(t, err)
	delivery.publishRetry = retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}

	key, err := ledger.StoreFailure(ctx, []byte("flaky"), "bus hiccup", 0)
	require.NoError(t, err)

	require.NoError(t, delivery.deliver(ctx, key))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []string{"flaky"}, published)
}

func TestDeliverGivesUpAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()

	var attempts int
	publish := func(ctx context.Context, data []byte) error {
		attempts++
		return assert.AnError
	}

	ledger, _ := newTestLedger(t, publish)
	delivery, err := NewDelivery(ledger, 1, 1, nil)
	require.NoError(t, err)
	delivery.publishRetry = retry.Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}

	key, err := ledger.StoreFailure(ctx, []byte("doomed"), "bus down", 0)
	require.NoError(t, err)

	err = delivery.deliver(ctx, key)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 2, attempts)
}

func TestNewDeliveryRequiresPublish(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	_, err := NewDelivery(ledger, 1, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
