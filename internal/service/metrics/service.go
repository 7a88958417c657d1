package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	redisrepo "github.com/kirinyoku/tix-checkin/internal/repository/redis"
)

var ErrCheckInNotOpen = errors.New("check-in is not open for event")

type Config struct {
	// CacheTTL bounds how stale a cached window or expected-attendance
	// figure may be. Pub/sub invalidation usually clears them sooner.
	CacheTTL time.Duration
}

// Service maintains the live checked-in counter of each event and derives
// the capacity metrics from it.
type Service struct {
	store   repository.Store
	counter Counter
	cache   *redisrepo.Cache
	log     *slog.Logger
	cfg     Config
}

// New builds the aggregator. cache may be nil, in which case every
// Snapshot reads the store.
func New(
	store repository.Store,
	counter Counter,
	cache *redisrepo.Cache,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}

	return &Service{
		store:   store,
		counter: counter,
		cache:   cache,
		log:     log,
		cfg:     cfg,
	}
}

// OnAdmission records one successful admission. It runs after the admission
// commits.
func (s *Service) OnAdmission(ctx context.Context, eventID int64) {
	s.apply(ctx, eventID, 1)
}

// OnRelease records a refund of an admitted ticket.
func (s *Service) OnRelease(ctx context.Context, eventID int64) {
	s.apply(ctx, eventID, -1)
}

// Seed initializes the counter of an event whose check-in is opening. It
// runs inside the opening transaction, before any admission can commit, so
// every later change arrives as a delta.
func (s *Service) Seed(ctx context.Context, eventID, checkedIn int64) error {
	if _, err := s.counter.Seed(ctx, eventID, checkedIn); err != nil {
		return fmt.Errorf("service.metrics.Seed: %w", err)
	}
	return nil
}

// Rebuild recounts the used tickets of an event and overwrites the counter
// with the result. The journal must hold at least one success record per
// used ticket; a shortfall is logged as an integrity failure.
//
// Returns the counter value after the rebuild.
func (s *Service) Rebuild(ctx context.Context, eventID int64) (int64, error) {
	const op = "service.metrics.Rebuild"

	used, err := s.usedTickets(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.counter.Set(ctx, eventID, used); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return used, nil
}

// apply forwards a delta to the counter. A counter that was lost is seeded
// from the store, which already reflects this change.
func (s *Service) apply(ctx context.Context, eventID, delta int64) {
	seeded, err := s.counter.Add(ctx, eventID, delta)
	if err != nil {
		s.log.Warn("metrics update failed",
			slog.Int64("event_id", eventID), slog.Int64("delta", delta), slog.Any("err", err))
		return
	}
	if seeded {
		return
	}

	if _, err := s.reseed(ctx, eventID); err != nil {
		s.log.Error("metrics reseed failed",
			slog.Int64("event_id", eventID), slog.Any("err", err))
	}
}

func (s *Service) reseed(ctx context.Context, eventID int64) (int64, error) {
	used, err := s.usedTickets(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return s.counter.Seed(ctx, eventID, used)
}

func (s *Service) usedTickets(ctx context.Context, eventID int64) (int64, error) {
	counts, err := s.store.Tickets().Counts(ctx, eventID)
	if err != nil {
		return 0, err
	}

	admitted, err := s.store.CheckIns().CountByOutcome(ctx, eventID, domain.OutcomeSuccess)
	if err != nil {
		return 0, err
	}
	if admitted < counts.Used {
		s.log.Error("used tickets without a success record",
			slog.Int64("event_id", eventID),
			slog.Int64("used", counts.Used),
			slog.Int64("success_records", admitted),
		)
	}

	return counts.Used, nil
}

// Snapshot returns the current capacity metrics of an event.
//
// Returns:
//   - *domain.CheckInMetrics: the metrics.
//   - error: metrics.ErrCheckInNotOpen if the event has no check-in window.
func (s *Service) Snapshot(ctx context.Context, eventID int64) (*domain.CheckInMetrics, error) {
	const op = "service.metrics.Snapshot"

	w, err := s.window(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrCheckInNotOpen)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	checkedIn, seeded, err := s.counter.Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case !seeded:
		if checkedIn, err = s.reseed(ctx, eventID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case checkedIn > w.Capacity:
		// Admissions are capped by the window, so the counter drifted.
		s.log.Warn("checked-in counter above capacity, rebuilding",
			slog.Int64("event_id", eventID),
			slog.Int64("counter", checkedIn),
			slog.Int64("capacity", w.Capacity))
		if checkedIn, err = s.Rebuild(ctx, eventID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	expected, err := s.expected(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return compute(eventID, w.Capacity, checkedIn, expected), nil
}

// Invalidate drops cached inputs of an event's metrics.
func (s *Service) Invalidate(ctx context.Context, eventID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateEvent(ctx, eventID); err != nil {
		s.log.Warn("metrics cache invalidation failed",
			slog.Int64("event_id", eventID), slog.Any("err", err))
	}
}

type cachedWindow struct {
	EventID  int64     `json:"event_id"`
	Capacity int64     `json:"capacity"`
	OpenedAt time.Time `json:"opened_at"`
}

type cachedExpected struct {
	TotalExpected int64 `json:"total_expected"`
}

func (s *Service) window(ctx context.Context, eventID int64) (cachedWindow, error) {
	load := func(ctx context.Context) (cachedWindow, error) {
		w, err := s.store.Windows().Get(ctx, eventID)
		if err != nil {
			return cachedWindow{}, err
		}
		return cachedWindow{EventID: w.EventID, Capacity: w.Capacity, OpenedAt: w.OpenedAt}, nil
	}

	if s.cache == nil {
		return load(ctx)
	}

	return redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyWindow(eventID), s.cfg.CacheTTL, load)
}

func (s *Service) expected(ctx context.Context, eventID int64) (int64, error) {
	load := func(ctx context.Context) (cachedExpected, error) {
		c, err := s.store.Tickets().Counts(ctx, eventID)
		if err != nil {
			return cachedExpected{}, err
		}
		return cachedExpected{TotalExpected: c.Expected()}, nil
	}

	var (
		v   cachedExpected
		err error
	)
	if s.cache == nil {
		v, err = load(ctx)
	} else {
		v, err = redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyMetrics(eventID), s.cfg.CacheTTL, load)
	}

	return v.TotalExpected, err
}

func compute(eventID, capacity, checkedIn, expected int64) *domain.CheckInMetrics {
	m := &domain.CheckInMetrics{
		EventID:        eventID,
		TotalCheckedIn: checkedIn,
		EventCapacity:  capacity,
		RemainingSpots: max(capacity-checkedIn, 0),
		TotalExpected:  expected,
	}

	if capacity > 0 {
		pct := float64(checkedIn) / float64(capacity) * 100
		m.EventCapacityPercentage = math.Round(pct*100) / 100
	}

	return m
}
