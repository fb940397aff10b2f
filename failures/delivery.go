package failures

import (
	"context"
	"time"

	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/metric"
	"github.com/praekeltfoundation/vumigo/pkg/retry"
	"github.com/praekeltfoundation/vumigo/pkg/worker"
)

// Delivery periodically sweeps the retry buckets and re-publishes due
// messages through a worker pool.
type Delivery struct {
	ledger       *Ledger
	pool         *worker.Pool[string]
	publishRetry retry.Config
}

// NewDelivery creates a retry delivery sweep over the ledger. The ledger
// must have been constructed with a publish function. Transient publish
// errors are retried with quick backoff before the key is surfaced as a
// delivery failure.
func NewDelivery(ledger *Ledger, workers, queueSize int, registry *metric.MetricsRegistry) (*Delivery, error) {
	if ledger.publish == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Delivery", "NewDelivery", "ledger publish function presence")
	}

	d := &Delivery{ledger: ledger, publishRetry: retry.Quick()}
	opts := []worker.Option[string]{}
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[string](registry, "failures_delivery"))
	}
	d.pool = worker.NewPool(workers, queueSize, d.deliver, opts...)
	return d, nil
}

// Start launches the pool and the sweep loop. It blocks until ctx is done.
func (d *Delivery) Start(ctx context.Context) error {
	if err := d.pool.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(d.ledger.cfg.DeliveryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// Stop drains the pool
func (d *Delivery) Stop(timeout time.Duration) error {
	return d.pool.Stop(timeout)
}

// sweep pops every due key and hands it to the pool. A full queue falls
// back to synchronous delivery so a popped key is never lost.
func (d *Delivery) sweep(ctx context.Context) {
	for {
		key, err := d.ledger.GetNextRetryKey(ctx)
		if err != nil {
			d.ledger.logger.Error("retry sweep failed", "error", err)
			return
		}
		if key == "" {
			return
		}

		if err := d.pool.Submit(key); err != nil {
			if err := d.deliver(ctx, key); err != nil {
				d.ledger.logger.Error("retry delivery failed",
					"failure_key", key, "error", err)
			}
		}
	}
}

// deliver re-publishes one stored message verbatim to the retry output
func (d *Delivery) deliver(ctx context.Context, failureKey string) error {
	record, err := d.ledger.GetFailure(ctx, failureKey)
	if err != nil {
		return err
	}
	err = retry.Do(ctx, d.publishRetry, func() error {
		return d.ledger.publish(ctx, record.Message)
	})
	if err != nil {
		return errors.WrapTransient(err, "Delivery", "deliver", "retry publish")
	}

	if d.ledger.metrics != nil {
		d.ledger.metrics.RetriesDelivered.Inc()
	}
	d.ledger.logger.Info("delivered retry", "failure_key", failureKey)
	return nil
}
