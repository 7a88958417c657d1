package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/tix-checkin/internal/credential"
	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	"github.com/kirinyoku/tix-checkin/internal/repository/memory"
	"github.com/kirinyoku/tix-checkin/internal/service/metrics"
)

type recordingPublisher struct {
	mu   sync.Mutex
	recs []domain.CheckInRecord
	err  error
}

func (p *recordingPublisher) PublishCheckIn(_ context.Context, rec domain.CheckInRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return p.err
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) PublishCheckInChanged(context.Context, int64) error {
	c.n.Add(1)
	return nil
}

// faultStore wraps a store and fails journal appends or reports a failure
// after an otherwise successful commit.
type faultStore struct {
	repository.Store
	failAppends     atomic.Int32
	failAfterCommit atomic.Bool
}

func (f *faultStore) CheckIns() repository.CheckIns {
	return faultCheckIns{CheckIns: f.Store.CheckIns(), f: f}
}

func (f *faultStore) InTx(ctx context.Context, opts repository.TxOptions, fn func(context.Context, repository.Store) error) error {
	err := f.Store.InTx(ctx, opts, func(ctx context.Context, tx repository.Store) error {
		return fn(ctx, &faultTx{Store: tx, f: f})
	})
	if err == nil && f.failAfterCommit.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: connection reset after commit", repository.ErrUnavailable)
	}
	return err
}

type faultTx struct {
	repository.Store
	f *faultStore
}

func (t *faultTx) CheckIns() repository.CheckIns {
	return faultCheckIns{CheckIns: t.Store.CheckIns(), f: t.f}
}

type faultCheckIns struct {
	repository.CheckIns
	f *faultStore
}

func (c faultCheckIns) Append(ctx context.Context, rec *domain.CheckInRecord) error {
	for {
		n := c.f.failAppends.Load()
		if n <= 0 {
			return c.CheckIns.Append(ctx, rec)
		}
		if c.f.failAppends.CompareAndSwap(n, n-1) {
			return fmt.Errorf("%w: injected", repository.ErrUnavailable)
		}
	}
}

type fixture struct {
	mem      *memory.Store
	store    *faultStore
	codec    *credential.Codec
	metrics  *metrics.Service
	pub      *recordingPublisher
	notifier *countingNotifier
	svc      *Service
}

const eventID = int64(42)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key := make([]byte, credential.KeySize)
	for i := range key {
		key[i] = byte(0xA0 + i)
	}
	kr, err := credential.NewKeyring(1, map[uint8][]byte{1: key})
	require.NoError(t, err)
	codec, err := credential.New(kr)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := memory.NewStore()
	store := &faultStore{Store: mem}
	m := metrics.New(mem, metrics.NewMemoryCounter(), nil, log, metrics.Config{})
	pub := &recordingPublisher{}
	notifier := &countingNotifier{}

	ctx := context.Background()
	require.NoError(t, mem.Windows().Open(ctx, &domain.CheckInWindow{EventID: eventID, Capacity: 100}))
	require.NoError(t, m.Seed(ctx, eventID, 0))

	return &fixture{
		mem:      mem,
		store:    store,
		codec:    codec,
		metrics:  m,
		pub:      pub,
		notifier: notifier,
		svc:      New(store, codec, m, pub, notifier, log),
	}
}

var codeSeq atomic.Int64

func (f *fixture) issue(t *testing.T, event int64, status domain.TicketStatus) (*domain.Ticket, string) {
	t.Helper()

	tk := &domain.Ticket{
		ID:           uuid.New(),
		EventID:      event,
		UserID:       1,
		TicketCode:   fmt.Sprintf("T%07d", codeSeq.Add(1)),
		AttendeeName: "Ada",
		Status:       domain.TicketValid,
		IssuedAt:     time.Unix(1_700_000_000, 0),
	}

	payload, err := f.codec.Encode(tk.ID, event, tk.IssuedAt)
	require.NoError(t, err)
	tk.QRPayload = payload

	ctx := context.Background()
	require.NoError(t, f.mem.Tickets().Create(ctx, tk))

	switch status {
	case domain.TicketUsed:
		ok, err := f.mem.Tickets().TryTransition(ctx, tk.ID, domain.TicketValid, domain.TicketUsed)
		require.NoError(t, err)
		require.True(t, ok)
	case domain.TicketCancelled:
		_, _, err := f.mem.Tickets().Cancel(ctx, tk.ID)
		require.NoError(t, err)
	}

	return tk, payload
}

func (f *fixture) checkedIn(t *testing.T) int64 {
	t.Helper()
	m, err := f.metrics.Snapshot(context.Background(), eventID)
	require.NoError(t, err)
	return m.TotalCheckedIn
}

func (f *fixture) status(t *testing.T, id uuid.UUID) domain.TicketStatus {
	t.Helper()
	tk, err := f.mem.Tickets().Get(context.Background(), id)
	require.NoError(t, err)
	return tk.Status
}

func corrupt(payload string) string {
	b := []byte(payload)
	i := len(b) / 2
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func TestAdmit_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t1, p1 := f.issue(t, eventID, domain.TicketValid)
	t2, p2 := f.issue(t, eventID, domain.TicketCancelled)

	v, err := f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p1, ScannedBy: "gate-a"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, v.Outcome)
	assert.Equal(t, domain.ReasonAdmitted, v.Reason)
	assert.Equal(t, "Ada", v.AttendeeName)
	require.NotNil(t, v.TicketID)
	assert.Equal(t, t1.ID, *v.TicketID)
	assert.Equal(t, domain.TicketUsed, f.status(t, t1.ID))
	assert.Equal(t, int64(1), f.checkedIn(t))

	v, err = f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p1, ScannedBy: "gate-b"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, v.Outcome)
	assert.Equal(t, domain.ReasonAlreadyUsed, v.Reason)
	assert.Empty(t, v.AttendeeName)
	assert.Equal(t, domain.TicketUsed, f.status(t, t1.ID))
	assert.Equal(t, int64(1), f.checkedIn(t))

	v, err = f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p2, ScannedBy: "gate-c"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDenied, v.Outcome)
	assert.Equal(t, domain.ReasonCancelled, v.Reason)
	assert.Equal(t, domain.TicketCancelled, f.status(t, t2.ID))

	bad := corrupt(p1)
	v, err = f.svc.Admit(ctx, Scan{EventID: eventID, Payload: bad, ScannedBy: "gate-a"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInvalid, v.Outcome)
	assert.Nil(t, v.TicketID)

	assert.Equal(t, int64(1), f.checkedIn(t))

	hist, err := f.svc.History(ctx, t1.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, domain.OutcomeSuccess, hist[0].Outcome)
	assert.Equal(t, domain.OutcomeDuplicate, hist[1].Outcome)

	invalid, err := f.mem.CheckIns().CountByOutcome(ctx, eventID, domain.OutcomeInvalid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), invalid, "rejected scans are journaled")

	f.pub.mu.Lock()
	assert.Len(t, f.pub.recs, 4, "every journaled record is published")
	f.pub.mu.Unlock()
	assert.Equal(t, int32(1), f.notifier.n.Load())
}

func TestAdmit_InvalidRecordKeepsPayloadHash(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Admit(context.Background(), Scan{EventID: eventID, Payload: "not-a-credential", ScannedBy: "g"})
	require.NoError(t, err)

	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	require.Len(t, f.pub.recs, 1)
	assert.Equal(t, credential.PayloadHash("not-a-credential"), f.pub.recs[0].PayloadHash)
	assert.Nil(t, f.pub.recs[0].TicketID)
	assert.Equal(t, domain.ReasonBadCredential, f.pub.recs[0].Reason)
}

func TestAdmit_Denials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("wrong event", func(t *testing.T) {
		tk, p := f.issue(t, eventID+1, domain.TicketValid)
		v, err := f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeDenied, v.Outcome)
		assert.Equal(t, domain.ReasonWrongEvent, v.Reason)
		assert.Equal(t, domain.TicketValid, f.status(t, tk.ID))
	})

	t.Run("unknown ticket", func(t *testing.T) {
		p, err := f.codec.Encode(uuid.New(), eventID, time.Now())
		require.NoError(t, err)
		v, err := f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeDenied, v.Outcome)
		assert.Equal(t, domain.ReasonUnknownTicket, v.Reason)
	})

	t.Run("check-in not open", func(t *testing.T) {
		const closed = int64(77)
		tk, p := f.issue(t, closed, domain.TicketValid)
		v, err := f.svc.Admit(ctx, Scan{EventID: closed, Payload: p})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeDenied, v.Outcome)
		assert.Equal(t, domain.ReasonCheckInClosed, v.Reason)
		assert.Equal(t, domain.TicketValid, f.status(t, tk.ID))
	})
}

func TestAdmit_IntegrityErrorWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Ticket stored under another event than its credential claims.
	tk := &domain.Ticket{ID: uuid.New(), EventID: eventID + 5, TicketCode: "INTEG001", Status: domain.TicketValid, IssuedAt: time.Now()}
	require.NoError(t, f.mem.Tickets().Create(ctx, tk))
	p, err := f.codec.Encode(tk.ID, eventID, time.Now())
	require.NoError(t, err)

	_, err = f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
	assert.ErrorIs(t, err, ErrIntegrity)

	hist, err := f.mem.CheckIns().ListByTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.Equal(t, domain.TicketValid, f.status(t, tk.ID))
}

func TestAdmit_ConcurrentScansAdmitOnce(t *testing.T) {
	f := newFixture(t)
	tk, p := f.issue(t, eventID, domain.TicketValid)

	const n = 50
	var (
		wg       sync.WaitGroup
		outcomes = make([]domain.Outcome, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.svc.Admit(context.Background(), Scan{EventID: eventID, Payload: p, ScannedBy: fmt.Sprintf("gate-%d", i)})
			if assert.NoError(t, err) {
				outcomes[i] = v.Outcome
			}
		}()
	}
	wg.Wait()

	success := 0
	for _, o := range outcomes {
		switch o {
		case domain.OutcomeSuccess:
			success++
		case domain.OutcomeDuplicate:
		default:
			t.Errorf("unexpected outcome %q", o)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, domain.TicketUsed, f.status(t, tk.ID))
	assert.Equal(t, int64(1), f.checkedIn(t))

	hist, err := f.svc.History(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Len(t, hist, n)
}

func TestAdmit_LostRaceClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk, p := f.issue(t, eventID, domain.TicketValid)

	// The ticket is cancelled between the engine's read and its transition.
	racing := &raceStore{Store: f.store, before: func() {
		_, _, err := f.mem.Tickets().Cancel(ctx, tk.ID)
		require.NoError(t, err)
	}}
	svc := New(racing, f.codec, f.metrics, f.pub, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	v, err := svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDenied, v.Outcome)
	assert.Equal(t, domain.ReasonCancelled, v.Reason)
	assert.Equal(t, int64(0), f.checkedIn(t))

	tk2, p2 := f.issue(t, eventID, domain.TicketValid)
	racing.before = func() {
		ok, err := f.mem.Tickets().TryTransition(ctx, tk2.ID, domain.TicketValid, domain.TicketUsed)
		require.NoError(t, err)
		require.True(t, ok)
	}
	v, err = svc.Admit(ctx, Scan{EventID: eventID, Payload: p2})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, v.Outcome)
	assert.Equal(t, domain.ReasonLostRace, v.Reason)
}

// raceStore runs before just ahead of the admission transaction.
type raceStore struct {
	repository.Store
	before func()
}

func (r *raceStore) InTx(ctx context.Context, opts repository.TxOptions, fn func(context.Context, repository.Store) error) error {
	if r.before != nil {
		r.before()
	}
	return r.Store.InTx(ctx, opts, fn)
}

func TestAdmit_DeniedOnceWindowIsFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const small = eventID + 100
	require.NoError(t, f.mem.Windows().Open(ctx, &domain.CheckInWindow{EventID: small, Capacity: 2}))

	const n = 5
	var (
		wg       sync.WaitGroup
		tickets  = make([]*domain.Ticket, n)
		verdicts = make([]Verdict, n)
	)
	for i := range n {
		tk, p := f.issue(t, small, domain.TicketValid)
		tickets[i] = tk
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.svc.Admit(ctx, Scan{EventID: small, Payload: p, ScannedBy: "gate-a"})
			if assert.NoError(t, err) {
				verdicts[i] = v
			}
		}()
	}
	wg.Wait()

	admitted := 0
	for i, v := range verdicts {
		switch v.Outcome {
		case domain.OutcomeSuccess:
			admitted++
			assert.Equal(t, domain.TicketUsed, f.status(t, tickets[i].ID))
		case domain.OutcomeDenied:
			assert.Equal(t, domain.ReasonCapacityFull, v.Reason)
			assert.Empty(t, v.AttendeeName)
			assert.Equal(t, domain.TicketValid, f.status(t, tickets[i].ID), "transition undone")
		default:
			t.Errorf("unexpected outcome %q", v.Outcome)
		}
	}
	assert.Equal(t, 2, admitted)

	w, err := f.mem.Windows().Get(ctx, small)
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.CheckedIn)

	m, err := f.metrics.Snapshot(ctx, small)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.TotalCheckedIn)
	assert.Equal(t, int64(0), m.RemainingSpots)
	assert.Equal(t, 100.0, m.EventCapacityPercentage)

	denied, err := f.mem.CheckIns().CountByOutcome(ctx, small, domain.OutcomeDenied)
	require.NoError(t, err)
	assert.Equal(t, int64(3), denied, "capacity denials are journaled")
}

func TestAdmit_RetryAfterFailureBeforeCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, p := f.issue(t, eventID, domain.TicketValid)

	f.store.failAppends.Store(1)

	_, err := f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, domain.TicketValid, f.status(t, tk.ID), "transition rolled back with the record")
	assert.Equal(t, int64(0), f.checkedIn(t))

	w, err := f.mem.Windows().Get(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.CheckedIn, "slot rolled back too")

	v, err := f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, v.Outcome)
	assert.Equal(t, int64(1), f.checkedIn(t))
}

func TestAdmit_RetryAfterFailureAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, p := f.issue(t, eventID, domain.TicketValid)

	f.store.failAfterCommit.Store(true)

	_, err := f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
	require.ErrorIs(t, err, ErrStoreUnavailable)

	v, err := f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, v.Outcome)

	success, err := f.mem.CheckIns().CountByOutcome(ctx, eventID, domain.OutcomeSuccess)
	require.NoError(t, err)
	assert.Equal(t, int64(1), success)
	assert.Equal(t, domain.TicketUsed, f.status(t, tk.ID))

	// The lost hook never ran; a rebuild restores the counter from the store.
	_, err = f.metrics.Rebuild(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.checkedIn(t))
}

func TestAdmit_RejectionAppendFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failAppends.Store(1)

	_, err := f.svc.Admit(context.Background(), Scan{EventID: eventID, Payload: "garbage"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAdmit_CancelledBeforeTransition(t *testing.T) {
	f := newFixture(t)
	tk, p := f.issue(t, eventID, domain.TicketValid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.TicketValid, f.status(t, tk.ID))

	hist, err := f.svc.History(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestAdmit_PublishFailureKeepsVerdict(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	_, p := f.issue(t, eventID, domain.TicketValid)

	v, err := f.svc.Admit(context.Background(), Scan{EventID: eventID, Payload: p})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, v.Outcome)
}

func TestAdmit_MetricsConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var payloads []string
	for range 20 {
		_, p := f.issue(t, eventID, domain.TicketValid)
		payloads = append(payloads, p)
	}
	for range 3 {
		tk, _ := f.issue(t, eventID, domain.TicketValid)
		_, _, err := f.mem.Tickets().Cancel(ctx, tk.ID)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for round := range 3 {
		for i, p := range payloads {
			if (i+round)%2 == 0 {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Admit(ctx, Scan{EventID: eventID, Payload: p})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	counts, err := f.mem.Tickets().Counts(ctx, eventID)
	require.NoError(t, err)

	m, err := f.metrics.Snapshot(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, counts.Used, m.TotalCheckedIn)
	assert.Equal(t, int64(20), m.TotalCheckedIn)
	assert.GreaterOrEqual(t, m.RemainingSpots, int64(0))
	assert.Equal(t, counts.Expected(), m.TotalExpected)
}
