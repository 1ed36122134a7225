package cartstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/storage/memory"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const testKey = "cart:test:cartItems"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newCaptureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// mockStorage is a testify mock of storage.Storage.
type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockStorage) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func openEmpty(t *testing.T) (*Store, *memory.Storage) {
	t.Helper()
	st := memory.New(0, time.Minute)
	return Open(context.Background(), st, testKey, newTestLogger()), st
}

func stored(t *testing.T, st *memory.Storage) domain.Cart {
	t.Helper()
	raw, err := st.Get(context.Background(), testKey)
	require.NoError(t, err)
	var c domain.Cart
	require.NoError(t, json.Unmarshal(raw, &c))
	return c
}

// ============================================================================
// Scenario
// ============================================================================

func TestStore_SoupScenario(t *testing.T) {
	s, st := openEmpty(t)
	ctx := context.Background()

	snap := s.AddItem(ctx, domain.CartLine{Name: "Tomato Soup", Price: 120})
	assert.Equal(t, domain.Cart{{Name: "Tomato Soup", Price: 120, Quantity: 1}}, snap.Items)
	assert.InDelta(t, 120.0, snap.TotalPrice, 1e-9)

	snap = s.AddItem(ctx, domain.CartLine{Name: "Tomato Soup", Price: 120})
	assert.Equal(t, domain.Cart{{Name: "Tomato Soup", Price: 120, Quantity: 2}}, snap.Items)
	assert.InDelta(t, 240.0, snap.TotalPrice, 1e-9)

	snap = s.IncreaseQuantity(ctx, "Tomato Soup")
	assert.Equal(t, 3, snap.Items[0].Quantity)
	assert.InDelta(t, 360.0, snap.TotalPrice, 1e-9)

	snap = s.AddItem(ctx, domain.CartLine{Name: "Corn Soup", Price: 100})
	require.Len(t, snap.Items, 2)
	assert.InDelta(t, 460.0, snap.TotalPrice, 1e-9)
	assert.InDelta(t, 460.0, s.TotalPrice(), 1e-9)
	assert.Equal(t, 4, s.TotalQuantity())

	assert.Equal(t, s.Items(), stored(t, st))
}

// ============================================================================
// AddItem
// ============================================================================

func TestStore_AddItem_UniqueByName(t *testing.T) {
	s, _ := openEmpty(t)
	ctx := context.Background()

	names := []string{"a", "b", "a", "c", "b", "a"}
	for _, n := range names {
		s.AddItem(ctx, domain.CartLine{Name: n, Price: 1})
	}

	items := s.Items()
	require.Len(t, items, 3)
	seen := map[string]bool{}
	for _, l := range items {
		assert.False(t, seen[l.Name], "duplicate line %q", l.Name)
		seen[l.Name] = true
	}
	line, _ := items.Find("a")
	assert.Equal(t, 3, line.Quantity)
}

func TestStore_AddItem_ExistingKeepsOtherFields(t *testing.T) {
	s, _ := openEmpty(t)
	ctx := context.Background()

	s.AddItem(ctx, domain.CartLine{Name: "Soup", Price: 5, ImageSrc: "/a.png", AltText: "a"})
	snap := s.AddItem(ctx, domain.CartLine{Name: "Soup", Price: 9, ImageSrc: "/b.png", AltText: "b"})

	assert.Equal(t, domain.CartLine{Name: "Soup", Price: 5, Quantity: 2, ImageSrc: "/a.png", AltText: "a"}, snap.Items[0])
}

func TestStore_AddItem_IgnoresIncomingQuantityAndClampsPrice(t *testing.T) {
	s, _ := openEmpty(t)

	snap := s.AddItem(context.Background(), domain.CartLine{Name: "Soup", Price: -4, Quantity: 7})

	assert.Equal(t, 1, snap.Items[0].Quantity)
	assert.Zero(t, snap.Items[0].Price)
}

func TestStore_AddItem_MissingPriceIsZero(t *testing.T) {
	s, _ := openEmpty(t)

	snap := s.AddItem(context.Background(), domain.CartLine{Name: "Free Sample"})
	assert.Zero(t, snap.TotalPrice)
	assert.Equal(t, 1, snap.TotalQuantity)
}

func TestStore_AddItem_EmptyNameIgnored(t *testing.T) {
	st := &mockStorage{}
	st.On("Get", mock.Anything, testKey).Return(nil, apperrors.NotFound("key", testKey))
	s := Open(context.Background(), st, testKey, newTestLogger())

	snap := s.AddItem(context.Background(), domain.CartLine{Price: 3})
	assert.Empty(t, snap.Items)
	st.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// ============================================================================
// Increase / Decrease / Remove / Clear
// ============================================================================

func TestStore_IncreaseQuantity_UnknownIsNoop(t *testing.T) {
	st := &mockStorage{}
	st.On("Get", mock.Anything, testKey).Return(nil, apperrors.NotFound("key", testKey))
	s := Open(context.Background(), st, testKey, newTestLogger())

	called := false
	s.Subscribe(func(context.Context, Snapshot) { called = true })

	snap := s.IncreaseQuantity(context.Background(), "ghost")
	assert.Empty(t, snap.Items)
	assert.False(t, called)
	st.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_DecreaseQuantity_FloorsAtOne(t *testing.T) {
	s, st := openEmpty(t)
	ctx := context.Background()

	s.AddItem(ctx, domain.CartLine{Name: "Soup", Price: 2})
	s.IncreaseQuantity(ctx, "Soup")

	snap := s.DecreaseQuantity(ctx, "Soup")
	assert.Equal(t, 1, snap.Items[0].Quantity)

	notified := 0
	s.Subscribe(func(context.Context, Snapshot) { notified++ })

	snap = s.DecreaseQuantity(ctx, "Soup")
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 1, snap.Items[0].Quantity)
	assert.Zero(t, notified)

	snap = s.DecreaseQuantity(ctx, "ghost")
	assert.Len(t, snap.Items, 1)
	assert.Equal(t, 1, stored(t, st)[0].Quantity)
}

func TestStore_RemoveItem(t *testing.T) {
	s, st := openEmpty(t)
	ctx := context.Background()

	s.AddItem(ctx, domain.CartLine{Name: "a", Price: 1})
	s.AddItem(ctx, domain.CartLine{Name: "b", Price: 2})
	s.AddItem(ctx, domain.CartLine{Name: "c", Price: 3})

	snap := s.RemoveItem(ctx, "b")
	assert.Equal(t, []string{"a", "c"}, names(snap.Items))
	assert.Equal(t, []string{"a", "c"}, names(stored(t, st)))

	snap = s.RemoveItem(ctx, "ghost")
	assert.Len(t, snap.Items, 2)
}

func TestStore_Clear_PersistsEmptyArray(t *testing.T) {
	s, st := openEmpty(t)
	ctx := context.Background()

	s.AddItem(ctx, domain.CartLine{Name: "a", Price: 1})
	snap := s.Clear(ctx)

	assert.Empty(t, snap.Items)
	assert.Equal(t, OpClear, snap.Op)
	raw, err := st.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func names(c domain.Cart) []string {
	out := make([]string, 0, len(c))
	for _, l := range c {
		out = append(out, l.Name)
	}
	return out
}

// ============================================================================
// Hydration
// ============================================================================

func TestOpen_RoundTrip(t *testing.T) {
	s, st := openEmpty(t)
	ctx := context.Background()

	s.AddItem(ctx, domain.CartLine{Name: "Tomato Soup", Price: 120, ImageSrc: "/t.png", AltText: "tomato"})
	s.AddItem(ctx, domain.CartLine{Name: "Corn Soup", Price: 100})
	s.IncreaseQuantity(ctx, "Corn Soup")

	reopened := Open(ctx, st, testKey, newTestLogger())
	assert.Equal(t, s.Items(), reopened.Items())
	assert.Equal(t, s.TotalPrice(), reopened.TotalPrice())
}

func TestOpen_MissingSnapshotIsEmpty(t *testing.T) {
	s, _ := openEmpty(t)
	assert.Empty(t, s.Items())
	assert.NotNil(t, s.Items())
}

func TestOpen_CorruptSnapshotIsEmpty(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     "{{{",
		"wrong shape":  `{"name":"x"}`,
		"wrong fields": `[{"name":1}]`,
	} {
		t.Run(name, func(t *testing.T) {
			st := memory.New(0, time.Minute)
			require.NoError(t, st.Set(context.Background(), testKey, []byte(raw), 0))
			l, buf := newCaptureLogger()

			s := Open(context.Background(), st, testKey, l)

			assert.Empty(t, s.Items())
			assert.Contains(t, buf.String(), `"level":"WARN"`)
			assert.Contains(t, buf.String(), "cart snapshot is not valid")
		})
	}
}

func TestOpen_NullSnapshotIsEmpty(t *testing.T) {
	st := memory.New(0, time.Minute)
	require.NoError(t, st.Set(context.Background(), testKey, []byte("null"), 0))

	s := Open(context.Background(), st, testKey, newTestLogger())
	assert.Empty(t, s.Items())
	assert.NotNil(t, s.Items())
}

func TestOpen_ReadErrorIsEmpty(t *testing.T) {
	st := &mockStorage{}
	st.On("Get", mock.Anything, testKey).Return(nil, errors.New("connection refused"))
	l, buf := newCaptureLogger()

	s := Open(context.Background(), st, testKey, l)

	assert.Empty(t, s.Items())
	assert.Contains(t, buf.String(), "failed to read cart snapshot")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestOpen_LegacySnapshot(t *testing.T) {
	st := memory.New(0, time.Minute)
	legacy := `[{"soupName":"Tomato Soup","price":120,"quantity":2,"imageSrc":"/t.png","altText":"t"},{"soupName":"Tomato Soup","price":120,"quantity":1}]`
	require.NoError(t, st.Set(context.Background(), testKey, []byte(legacy), 0))

	s := Open(context.Background(), st, testKey, newTestLogger())

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Tomato Soup", items[0].Name)
	assert.Equal(t, 3, items[0].Quantity)
	assert.InDelta(t, 360.0, s.TotalPrice(), 1e-9)
}

// ============================================================================
// Persistence failures
// ============================================================================

func TestStore_WriteFailureKeepsMemory(t *testing.T) {
	st := &mockStorage{}
	st.On("Get", mock.Anything, testKey).Return(nil, apperrors.NotFound("key", testKey))
	st.On("Set", mock.Anything, testKey, mock.Anything, time.Duration(0)).Return(errors.New("quota exceeded"))
	l, buf := newCaptureLogger()
	s := Open(context.Background(), st, testKey, l)

	before := testutil.ToFloat64(persistFailuresTotal)
	snap := s.AddItem(context.Background(), domain.CartLine{Name: "Soup", Price: 3})

	assert.False(t, snap.Persisted)
	assert.Len(t, s.Items(), 1)
	assert.InDelta(t, 3.0, s.TotalPrice(), 1e-9)
	assert.Equal(t, before+1, testutil.ToFloat64(persistFailuresTotal))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "quota exceeded")

	// No retry: exactly one write per mutation.
	st.AssertNumberOfCalls(t, "Set", 1)
}

func TestStore_WritesFullSnapshotWithTTL(t *testing.T) {
	st := &mockStorage{}
	st.On("Get", mock.Anything, testKey).Return(nil, apperrors.NotFound("key", testKey))
	st.On("Set", mock.Anything, testKey, mock.Anything, time.Hour).Return(nil)
	s := Open(context.Background(), st, testKey, newTestLogger(), WithTTL(time.Hour))

	s.AddItem(context.Background(), domain.CartLine{Name: "a", Price: 1})
	s.AddItem(context.Background(), domain.CartLine{Name: "b", Price: 2})

	last := st.Calls[len(st.Calls)-1]
	var written domain.Cart
	require.NoError(t, json.Unmarshal(last.Arguments.Get(2).([]byte), &written))
	assert.Equal(t, []string{"a", "b"}, names(written))
}

// ============================================================================
// Observers
// ============================================================================

func TestStore_ObserversRunInCommitOrder(t *testing.T) {
	s, _ := openEmpty(t)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		ops []Op
	)
	s.Subscribe(func(_ context.Context, snap Snapshot) {
		mu.Lock()
		ops = append(ops, snap.Op)
		mu.Unlock()
	})

	s.AddItem(ctx, domain.CartLine{Name: "a"})
	s.IncreaseQuantity(ctx, "a")
	s.DecreaseQuantity(ctx, "a")
	s.RemoveItem(ctx, "a")
	s.Clear(ctx)

	assert.Equal(t, []Op{OpAdd, OpIncrease, OpDecrease, OpRemove, OpClear}, ops)
}

func TestStore_ConcurrentMutationsSerialize(t *testing.T) {
	s, st := openEmpty(t)
	ctx := context.Background()
	s.AddItem(ctx, domain.CartLine{Name: "a", Price: 1})

	var totals []int
	s.Subscribe(func(_ context.Context, snap Snapshot) {
		totals = append(totals, snap.TotalQuantity)
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncreaseQuantity(ctx, "a")
		}()
	}
	wg.Wait()

	assert.Equal(t, 51, s.TotalQuantity())
	assert.Equal(t, 51, stored(t, st)[0].Quantity)
	require.Len(t, totals, 50)
	for i, q := range totals {
		assert.Equal(t, i+2, q)
	}
}

func TestStore_Unsubscribe(t *testing.T) {
	s, _ := openEmpty(t)
	ctx := context.Background()

	var a, b int
	unsubA := s.Subscribe(func(context.Context, Snapshot) { a++ })
	s.Subscribe(func(context.Context, Snapshot) { b++ })

	s.AddItem(ctx, domain.CartLine{Name: "x"})
	unsubA()
	unsubA()
	s.AddItem(ctx, domain.CartLine{Name: "x"})

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestStore_ObserverCannotMutateState(t *testing.T) {
	s, _ := openEmpty(t)
	s.Subscribe(func(_ context.Context, snap Snapshot) {
		snap.Items[0].Quantity = 99
	})

	s.AddItem(context.Background(), domain.CartLine{Name: "x"})
	assert.Equal(t, 1, s.Items()[0].Quantity)
}

func TestStore_ObserverPanicIsContained(t *testing.T) {
	s, _ := openEmpty(t)
	var after int
	s.Subscribe(func(context.Context, Snapshot) { panic("boom") })
	s.Subscribe(func(context.Context, Snapshot) { after++ })

	assert.NotPanics(t, func() {
		s.AddItem(context.Background(), domain.CartLine{Name: "x"})
	})
	assert.Equal(t, 1, after)
	assert.Len(t, s.Items(), 1)
}

func TestStore_WithObserverAndSessionID(t *testing.T) {
	var got Snapshot
	st := memory.New(0, time.Minute)
	s := Open(context.Background(), st, testKey, newTestLogger(),
		WithSessionID("sess-1"),
		WithObserver(func(_ context.Context, snap Snapshot) { got = snap }),
	)

	s.AddItem(context.Background(), domain.CartLine{Name: "x", Price: 2})

	assert.Equal(t, "sess-1", s.SessionID())
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, testKey, got.Key)
	assert.Equal(t, testKey, s.Key())
	assert.True(t, got.Persisted)
}

func TestStore_MutationMetric(t *testing.T) {
	s, _ := openEmpty(t)
	before := testutil.ToFloat64(mutationsTotal.WithLabelValues(string(OpAdd)))

	s.AddItem(context.Background(), domain.CartLine{Name: "x"})
	s.AddItem(context.Background(), domain.CartLine{})

	assert.Equal(t, before+1, testutil.ToFloat64(mutationsTotal.WithLabelValues(string(OpAdd))))
}
