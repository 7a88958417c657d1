package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kirinyoku/tix-checkin/internal/credential"
	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	redisrepo "github.com/kirinyoku/tix-checkin/internal/repository/redis"
	"github.com/kirinyoku/tix-checkin/internal/service/admission"
	"github.com/kirinyoku/tix-checkin/internal/service/events"
	"github.com/kirinyoku/tix-checkin/internal/service/gate"
	"github.com/kirinyoku/tix-checkin/internal/service/metrics"
	"github.com/kirinyoku/tix-checkin/internal/service/tickets"
)

type Services struct {
	Admission *admission.Service
	Metrics   *metrics.Service
	Gate      *gate.Coordinator
	Tickets   *tickets.Service
	Events    *events.Service
}

type Config struct {
	Metrics metrics.Config
	Gate    gate.Config
}

// NewServices wires the check-in services. cache and pubsub may be nil when
// the instance runs without Redis.
func NewServices(
	store repository.Store,
	codec *credential.Codec,
	counter metrics.Counter,
	locker gate.Locker,
	cache *redisrepo.Cache,
	pubsub *redisrepo.CheckInPubSub,
	publisher admission.Publisher,
	log *slog.Logger,
	cfg Config,
) *Services {
	m := metrics.New(store, counter, cache, log, cfg.Metrics)
	b := &broadcaster{Service: m, pubsub: pubsub, log: log}

	var notifier admission.ChangeNotifier
	if pubsub != nil {
		notifier = pubsub
	}

	return &Services{
		Admission: admission.New(store, codec, m, publisher, notifier, log),
		Metrics:   m,
		Gate:      gate.NewCoordinator(locker, codec, cfg.Gate),
		Tickets:   tickets.New(store, codec, b, log),
		Events:    events.New(store, b, log),
	}
}

// CheckIn admits a scan inside its gate section. A scan that cannot enter
// the section in time gets a busy verdict and nothing is recorded.
func (s *Services) CheckIn(ctx context.Context, scan admission.Scan) (admission.Verdict, error) {
	var v admission.Verdict

	err := s.Gate.Submit(ctx, scan.EventID, scan.Payload, func(ctx context.Context) error {
		var err error
		v, err = s.Admission.Admit(ctx, scan)
		return err
	})
	if errors.Is(err, gate.ErrBusy) {
		return admission.Verdict{
			Outcome:   domain.OutcomeBusy,
			Reason:    domain.ReasonGateBusy,
			Timestamp: time.Now(),
		}, nil
	}

	return v, err
}

// broadcaster extends local cache invalidation to the other instances.
type broadcaster struct {
	*metrics.Service
	pubsub *redisrepo.CheckInPubSub
	log    *slog.Logger
}

func (b *broadcaster) Invalidate(ctx context.Context, eventID int64) {
	b.Service.Invalidate(ctx, eventID)

	if b.pubsub == nil {
		return
	}
	if err := b.pubsub.PublishCheckInChanged(ctx, eventID); err != nil {
		b.log.Warn("publish checkin_changed failed",
			slog.Int64("event_id", eventID), slog.Any("err", err))
	}
}
