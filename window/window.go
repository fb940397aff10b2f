package window

import (
	"context"
	stderrors "errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/kvstore"
	"github.com/praekeltfoundation/vumigo/metric"
)

// Caller-contract errors
var (
	// ErrWindowExists is returned by strict creation of an existing window
	ErrWindowExists = stderrors.New("window: window already exists")
	// ErrWindowNotEmpty is returned when removing a window that still has
	// waiting or in-flight items
	ErrWindowNotEmpty = stderrors.New("window: window not empty")
)

// Config holds window manager configuration
type Config struct {
	// WindowSize bounds concurrent in-flight items per window
	WindowSize int `json:"window_size"`
	// FlightLifetime is how long an item may stay in flight before its
	// slot is reclaimed
	FlightLifetime time.Duration `json:"flight_lifetime"`
	// GCInterval is how often expired flights are reclaimed
	GCInterval time.Duration `json:"gc_interval"`
}

// Validate checks the window configuration
func (c *Config) Validate() error {
	if c.WindowSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"window.Config", "Validate", "window_size must be positive")
	}
	if c.FlightLifetime <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"window.Config", "Validate", "flight_lifetime must be positive")
	}
	return nil
}

// DefaultConfig returns sensible window defaults
func DefaultConfig() Config {
	return Config{
		WindowSize:     100,
		FlightLifetime: time.Minute,
		GCInterval:     10 * time.Second,
	}
}

// Manager bounds in-flight concurrency per named window, with all state in
// the key-value store. Safe for use from multiple processes against the
// same windows; see the package comment for the admission-race caveat.
type Manager struct {
	store  kvstore.Store
	cfg    Config
	logger *slog.Logger

	// Optional metrics; nil disables
	metrics *metric.Metrics

	// now is swappable for expiry tests
	now func() time.Time
}

// NewManager creates a window manager over the given store
func NewManager(store kvstore.Store, cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	if registry != nil {
		m.metrics = registry.CoreMetrics()
	}
	return m, nil
}

// SetClock replaces the manager's time source. Test helper.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Store key layout
const windowsKey = "windows"

func waitingKey(windowID string) string {
	return "windows:waiting:" + windowID
}

func inflightKey(windowID string) string {
	return "windows:inflight:" + windowID
}

func flightStatsKey(windowID string) string {
	return "windows:flightstats:" + windowID
}

func externalMapKey(windowID, key string) string {
	return "windows:keymap:" + windowID + ":external:" + key
}

func internalMapKey(windowID, externalID string) string {
	return "windows:keymap:" + windowID + ":internal:" + externalID
}

func payloadKey(windowID, key string) string {
	return windowID + ":" + key
}

// CreateWindow registers a window, idempotently unless strict. It returns
// the creation time: the original one if the window already existed.
func (m *Manager) CreateWindow(ctx context.Context, windowID string, strict bool) (time.Time, error) {
	score, err := m.store.ZScore(ctx, windowsKey, windowID)
	if err == nil {
		if strict {
			return time.Time{}, errors.WrapInvalid(ErrWindowExists,
				"Manager", "CreateWindow", "strict creation of "+windowID)
		}
		return timeFromScore(score), nil
	}
	if !stderrors.Is(err, kvstore.ErrNotFound) {
		return time.Time{}, errors.WrapTransient(err, "Manager", "CreateWindow", "window lookup")
	}

	created := m.now()
	err = m.store.ZAdd(ctx, windowsKey, kvstore.ScoredMember{
		Member: windowID,
		Score:  scoreFromTime(created),
	})
	if err != nil {
		return time.Time{}, errors.WrapTransient(err, "Manager", "CreateWindow", "window registration")
	}
	m.logger.Info("created window", "window_id", windowID)
	return created, nil
}

// RemoveWindow deletes all state for a drained window. It fails with
// ErrWindowNotEmpty while any item is waiting or in flight.
func (m *Manager) RemoveWindow(ctx context.Context, windowID string) error {
	waiting, err := m.CountWaiting(ctx, windowID)
	if err != nil {
		return err
	}
	inFlight, err := m.CountInFlight(ctx, windowID)
	if err != nil {
		return err
	}
	if waiting > 0 || inFlight > 0 {
		return errors.WrapInvalid(ErrWindowNotEmpty,
			"Manager", "RemoveWindow", "removal of busy window "+windowID)
	}

	for _, key := range []string{waitingKey(windowID), inflightKey(windowID), flightStatsKey(windowID)} {
		if err := m.store.Delete(ctx, key); err != nil {
			return errors.WrapTransient(err, "Manager", "RemoveWindow", "state cleanup")
		}
	}
	if err := m.store.ZRem(ctx, windowsKey, windowID); err != nil {
		return errors.WrapTransient(err, "Manager", "RemoveWindow", "window deregistration")
	}
	m.logger.Info("removed window", "window_id", windowID)
	return nil
}

// GetWindows lists all registered window IDs
func (m *Manager) GetWindows(ctx context.Context) ([]string, error) {
	windows, err := m.store.ZRange(ctx, windowsKey, 0, -1)
	if err != nil {
		return nil, errors.WrapTransient(err, "Manager", "GetWindows", "window listing")
	}
	return windows, nil
}

// Add appends a payload to the tail of a window's waiting queue and returns
// its key, generating one when the caller does not supply it.
func (m *Manager) Add(ctx context.Context, windowID string, payload []byte, key string) (string, error) {
	if key == "" {
		key = uuid.NewString()
	}

	// The payload must be readable before the key becomes poppable, or a
	// concurrent consumer could pop a key whose data is not stored yet.
	if err := m.store.Set(ctx, payloadKey(windowID, key), string(payload)); err != nil {
		return "", errors.WrapTransient(err, "Manager", "Add", "payload store")
	}
	if err := m.store.LPush(ctx, waitingKey(windowID), key); err != nil {
		return "", errors.WrapTransient(err, "Manager", "Add", "waiting queue push")
	}
	return key, nil
}

// GetNextKey atomically moves the head of the waiting queue into flight
// and returns its key. It returns "" when nothing is waiting or the window
// is at capacity. The room check is advisory under concurrent callers; the
// pop itself is atomic.
func (m *Manager) GetNextKey(ctx context.Context, windowID string) (string, error) {
	waiting, err := m.CountWaiting(ctx, windowID)
	if err != nil {
		return "", err
	}
	if waiting == 0 {
		return "", nil
	}

	inFlight, err := m.CountInFlight(ctx, windowID)
	if err != nil {
		return "", err
	}
	if int(inFlight) >= m.cfg.WindowSize {
		return "", nil
	}

	key, err := m.store.RPopLPush(ctx, waitingKey(windowID), inflightKey(windowID))
	if stderrors.Is(err, kvstore.ErrEmpty) {
		// Raced with another manager; the item went to them.
		return "", nil
	}
	if err != nil {
		return "", errors.WrapTransient(err, "Manager", "GetNextKey", "flight pop")
	}

	err = m.store.ZAdd(ctx, flightStatsKey(windowID), kvstore.ScoredMember{
		Member: key,
		Score:  scoreFromTime(m.now()),
	})
	if err != nil {
		return "", errors.WrapTransient(err, "Manager", "GetNextKey", "flight timestamp")
	}
	return key, nil
}

// GetData returns the stored payload for a key
func (m *Manager) GetData(ctx context.Context, windowID, key string) ([]byte, error) {
	val, err := m.store.Get(ctx, payloadKey(windowID, key))
	if stderrors.Is(err, kvstore.ErrNotFound) {
		return nil, errors.WrapInvalid(kvstore.ErrNotFound,
			"Manager", "GetData", "payload lookup for "+key)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "Manager", "GetData", "payload lookup")
	}
	return []byte(val), nil
}

// RemoveKey clears a key's flight slot, payload, flight timestamp and any
// external-ID mapping. Absent keys are ignored.
func (m *Manager) RemoveKey(ctx context.Context, windowID, key string) error {
	if _, err := m.store.LRem(ctx, inflightKey(windowID), 0, key); err != nil {
		return errors.WrapTransient(err, "Manager", "RemoveKey", "flight slot clear")
	}
	if err := m.store.Delete(ctx, payloadKey(windowID, key)); err != nil {
		return errors.WrapTransient(err, "Manager", "RemoveKey", "payload delete")
	}
	if err := m.store.ZRem(ctx, flightStatsKey(windowID), key); err != nil {
		return errors.WrapTransient(err, "Manager", "RemoveKey", "flight timestamp clear")
	}
	return m.ClearExternalID(ctx, windowID, key)
}

// CountWaiting returns the number of items awaiting a flight slot
func (m *Manager) CountWaiting(ctx context.Context, windowID string) (int64, error) {
	n, err := m.store.LLen(ctx, waitingKey(windowID))
	if err != nil {
		return 0, errors.WrapTransient(err, "Manager", "CountWaiting", "waiting count")
	}
	return n, nil
}

// CountInFlight returns the number of items currently in flight
func (m *Manager) CountInFlight(ctx context.Context, windowID string) (int64, error) {
	n, err := m.store.LLen(ctx, inflightKey(windowID))
	if err != nil {
		return 0, errors.WrapTransient(err, "Manager", "CountInFlight", "flight count")
	}
	return n, nil
}

// GetExpiredFlightKeys returns in-flight keys whose flight started more
// than FlightLifetime ago.
func (m *Manager) GetExpiredFlightKeys(ctx context.Context, windowID string) ([]string, error) {
	cutoff := scoreFromTime(m.now().Add(-m.cfg.FlightLifetime))
	keys, err := m.store.ZRangeByScore(ctx, flightStatsKey(windowID), math.Inf(-1), cutoff)
	if err != nil {
		return nil, errors.WrapTransient(err, "Manager", "GetExpiredFlightKeys", "expiry query")
	}
	return keys, nil
}

// ClearExpiredFlightKeys frees the flight slot of every expired key across
// all windows. It deliberately leaves payload, timestamp and mapping in
// place: this is a safety valve for peers that silently drop
// acknowledgements, and the remaining bookkeeping is still wanted for
// manual inspection. A late response for a reclaimed key is handled as a
// correlation miss by the consumer.
func (m *Manager) ClearExpiredFlightKeys(ctx context.Context) error {
	windows, err := m.GetWindows(ctx)
	if err != nil {
		return err
	}
	for _, windowID := range windows {
		expired, err := m.GetExpiredFlightKeys(ctx, windowID)
		if err != nil {
			return err
		}
		for _, key := range expired {
			n, err := m.store.LRem(ctx, inflightKey(windowID), 0, key)
			if err != nil {
				return errors.WrapTransient(err, "Manager", "ClearExpiredFlightKeys", "flight slot reclaim")
			}
			if n > 0 {
				m.logger.Warn("reclaimed expired flight",
					"window_id", windowID, "key", key)
			}
		}
	}
	return nil
}

// SetExternalID records the bidirectional mapping between an internal key
// and a remote-assigned identifier.
func (m *Manager) SetExternalID(ctx context.Context, windowID, key, externalID string) error {
	if err := m.store.Set(ctx, externalMapKey(windowID, key), externalID); err != nil {
		return errors.WrapTransient(err, "Manager", "SetExternalID", "external mapping")
	}
	if err := m.store.Set(ctx, internalMapKey(windowID, externalID), key); err != nil {
		return errors.WrapTransient(err, "Manager", "SetExternalID", "internal mapping")
	}
	return nil
}

// GetExternalID returns the external ID recorded for a key, or "" if none
func (m *Manager) GetExternalID(ctx context.Context, windowID, key string) (string, error) {
	val, err := m.store.Get(ctx, externalMapKey(windowID, key))
	if stderrors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.WrapTransient(err, "Manager", "GetExternalID", "mapping lookup")
	}
	return val, nil
}

// GetInternalID returns the internal key for an external ID, or "" if none
func (m *Manager) GetInternalID(ctx context.Context, windowID, externalID string) (string, error) {
	val, err := m.store.Get(ctx, internalMapKey(windowID, externalID))
	if stderrors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.WrapTransient(err, "Manager", "GetInternalID", "mapping lookup")
	}
	return val, nil
}

// ClearExternalID removes both directions of a key's mapping
func (m *Manager) ClearExternalID(ctx context.Context, windowID, key string) error {
	externalID, err := m.GetExternalID(ctx, windowID, key)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, externalMapKey(windowID, key)); err != nil {
		return errors.WrapTransient(err, "Manager", "ClearExternalID", "external mapping delete")
	}
	if externalID != "" {
		if err := m.store.Delete(ctx, internalMapKey(windowID, externalID)); err != nil {
			return errors.WrapTransient(err, "Manager", "ClearExternalID", "internal mapping delete")
		}
	}
	return nil
}

func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromScore(score float64) time.Time {
	return time.Unix(0, int64(score*float64(time.Second)))
}
