package tickets

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/tix-checkin/internal/credential"
	"github.com/kirinyoku/tix-checkin/internal/domain"
	"github.com/kirinyoku/tix-checkin/internal/repository"
	"github.com/kirinyoku/tix-checkin/internal/repository/memory"
)

type recordingAggregator struct {
	invalidated atomic.Int32
	released    atomic.Int32
}

func (a *recordingAggregator) Invalidate(context.Context, int64) { a.invalidated.Add(1) }
func (a *recordingAggregator) OnRelease(context.Context, int64) { a.released.Add(1) }

func newService(t *testing.T) (*Service, *memory.Store, *credential.Codec, *recordingAggregator) {
	t.Helper()

	key := make([]byte, credential.KeySize)
	kr, err := credential.NewKeyring(3, map[uint8][]byte{3: key})
	require.NoError(t, err)
	codec, err := credential.New(kr)
	require.NoError(t, err)

	store := memory.NewStore()
	agg := &recordingAggregator{}
	return New(store, codec, agg, slog.New(slog.NewTextHandler(io.Discard, nil))), store, codec, agg
}

func TestIssue(t *testing.T) {
	svc, store, codec, agg := newService(t)
	ctx := context.Background()

	tk, err := svc.Issue(ctx, 5, 9, "Grace")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketValid, tk.Status)
	assert.Len(t, tk.TicketCode, codeLen)
	assert.Zero(t, tk.IssuedAt.Nanosecond())

	claims, err := codec.DecodeForEvent(tk.QRPayload, 5)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, claims.TicketID)
	assert.True(t, claims.IssuedAt.Equal(tk.IssuedAt))

	stored, err := store.Tickets().Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", stored.AttendeeName)
	assert.Equal(t, int32(1), agg.invalidated.Load())
}

func TestIssue_CapacityEnforced(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, store.Windows().Open(ctx, &domain.CheckInWindow{EventID: 1, Capacity: 3}))

	var (
		wg        sync.WaitGroup
		issued    atomic.Int32
		exhausted atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(ctx, 1, 1, "")
			switch {
			case err == nil:
				issued.Add(1)
			case assert.ErrorIs(t, err, ErrCapacityExhausted):
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), issued.Load())
	assert.Equal(t, int32(7), exhausted.Load())
}

func TestIssue_CancelledTicketsFreeCapacity(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, store.Windows().Open(ctx, &domain.CheckInWindow{EventID: 1, Capacity: 1}))

	tk, err := svc.Issue(ctx, 1, 1, "")
	require.NoError(t, err)

	_, err = svc.Issue(ctx, 1, 2, "")
	require.ErrorIs(t, err, ErrCapacityExhausted)

	_, err = svc.Cancel(ctx, tk.ID)
	require.NoError(t, err)

	_, err = svc.Issue(ctx, 1, 2, "")
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	svc, _, _, agg := newService(t)
	ctx := context.Background()

	tk, err := svc.Issue(ctx, 1, 1, "")
	require.NoError(t, err)

	got, err := svc.Cancel(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCancelled, got.Status)

	got, err = svc.Cancel(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCancelled, got.Status)
	assert.Equal(t, int32(2), agg.invalidated.Load(), "a repeated cancel changes nothing")
	assert.Zero(t, agg.released.Load(), "never admitted")

	_, err = svc.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestCancel_AdmittedTicketReleasesSlot(t *testing.T) {
	svc, store, _, agg := newService(t)
	ctx := context.Background()
	require.NoError(t, store.Windows().Open(ctx, &domain.CheckInWindow{EventID: 1, Capacity: 1}))

	tk, err := svc.Issue(ctx, 1, 1, "")
	require.NoError(t, err)

	// Admit the way the admission engine does: transition and slot together.
	require.NoError(t, store.InTx(ctx, repository.TxOptions{}, func(ctx context.Context, tx repository.Store) error {
		ok, err := tx.Tickets().TryTransition(ctx, tk.ID, domain.TicketValid, domain.TicketUsed)
		require.True(t, ok)
		if err != nil {
			return err
		}
		claimed, err := tx.Windows().Claim(ctx, 1)
		require.True(t, claimed)
		return err
	}))

	_, err = svc.Cancel(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), agg.released.Load())

	w, err := store.Windows().Get(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, w.CheckedIn)

	counts, err := store.Tickets().Counts(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, counts.Used)

	_, err = svc.Cancel(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), agg.released.Load(), "released once")
}

func TestGet_NotFound(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestQRCodePNG(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	tk, err := svc.Issue(ctx, 1, 1, "")
	require.NoError(t, err)

	b, err := svc.QRCodePNG(ctx, tk.ID, 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, DefaultQRSize, img.Bounds().Dx())

	b, err = svc.QRCodePNG(ctx, tk.ID, 5000)
	require.NoError(t, err)
	img, err = png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, MaxQRSize, img.Bounds().Dx())

	_, err = svc.QRCodePNG(ctx, uuid.New(), 0)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestNewTicketCode(t *testing.T) {
	seen := make(map[string]bool)
	for range 200 {
		c, err := newTicketCode()
		require.NoError(t, err)
		require.Len(t, c, codeLen)
		for _, r := range c {
			assert.True(t, strings.ContainsRune(crockford, r), "unexpected rune %q", r)
		}
		seen[c] = true
	}
	assert.Greater(t, len(seen), 190)
}
