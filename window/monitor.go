package window

import (
	"context"
	"time"
)

// KeyCallback handles one key that has been admitted into flight
type KeyCallback func(ctx context.Context, windowID, key string)

// CleanupCallback is invoked after an empty window has been removed
type CleanupCallback func(windowID string)

// MonitorOptions configures the periodic window sweep
type MonitorOptions struct {
	// Interval between sweeps
	Interval time.Duration
	// Cleanup removes windows found completely empty after a sweep
	Cleanup bool
	// CleanupCallback is invoked per removed window when Cleanup is set
	CleanupCallback CleanupCallback
	// Gate, when set, is checked before each sweep. A false result skips
	// the sweep, leaving waiting keys queued until the next tick.
	Gate func() bool
}

// Monitor starts a periodic sweep that drains available flight capacity on
// every window, invoking callback for each admitted key. It blocks until
// ctx is cancelled, so callers run it in a goroutine.
func (m *Manager) Monitor(ctx context.Context, opts MonitorOptions, callback KeyCallback) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if opts.Gate != nil && !opts.Gate() {
				continue
			}
			if err := m.sweep(ctx, opts, callback); err != nil {
				m.logger.Error("window sweep failed", "error", err)
			}
		}
	}
}

// sweep runs one pass over all windows
func (m *Manager) sweep(ctx context.Context, opts MonitorOptions, callback KeyCallback) error {
	windows, err := m.GetWindows(ctx)
	if err != nil {
		return err
	}

	for _, windowID := range windows {
		for {
			key, err := m.GetNextKey(ctx, windowID)
			if err != nil {
				return err
			}
			if key == "" {
				break
			}
			callback(ctx, windowID, key)
		}

		waiting, err := m.CountWaiting(ctx, windowID)
		if err != nil {
			return err
		}
		inFlight, err := m.CountInFlight(ctx, windowID)
		if err != nil {
			return err
		}

		if m.metrics != nil {
			m.metrics.WindowWaiting.WithLabelValues(windowID).Set(float64(waiting))
			m.metrics.WindowInFlight.WithLabelValues(windowID).Set(float64(inFlight))
		}

		if opts.Cleanup && waiting == 0 && inFlight == 0 {
			if err := m.RemoveWindow(ctx, windowID); err != nil {
				// Another manager may have raced an add into the window
				m.logger.Debug("window cleanup skipped",
					"window_id", windowID, "error", err)
				continue
			}
			if m.metrics != nil {
				m.metrics.WindowWaiting.DeleteLabelValues(windowID)
				m.metrics.WindowInFlight.DeleteLabelValues(windowID)
			}
			if opts.CleanupCallback != nil {
				opts.CleanupCallback(windowID)
			}
		}
	}
	return nil
}

// RunGC reclaims expired flights every GCInterval until ctx is cancelled.
// Callers run it in a goroutine alongside Monitor.
func (m *Manager) RunGC(ctx context.Context) {
	interval := m.cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.ClearExpiredFlightKeys(ctx); err != nil {
				m.logger.Error("flight expiry sweep failed", "error", err)
			}
		}
	}
}
