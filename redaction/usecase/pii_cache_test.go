package usecase

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgError "github.com/sting-chat/sting-cache/pkg/error"
	"github.com/sting-chat/sting-cache/redaction/domain/mapping"
)

// fakeMappingStore lets tests control memory pressure, entry ages and
// failure injection without a live store.
type fakeMappingStore struct {
	entries    map[string]*fakeEntry
	usedMemory int64
	failWith   error
	deleted    []string
}

type fakeEntry struct {
	tokens mapping.TokenMap
	meta   mapping.CacheMetadata
}

func newFakeStore() *fakeMappingStore {
	return &fakeMappingStore{entries: make(map[string]*fakeEntry)}
}

func (f *fakeMappingStore) put(id string, age time.Duration, errorCount int) {
	f.entries[id] = &fakeEntry{
		tokens: mapping.TokenMap{"TOKEN_1": "value"},
		meta: mapping.CacheMetadata{
			CreatedAt:  time.Now().Add(-age),
			TTL:        time.Hour,
			PiiCount:   1,
			UserID:     mapping.UnknownUser,
			ErrorCount: errorCount,
		},
	}
}

func (f *fakeMappingStore) Store(ctx context.Context, id string, tokens mapping.TokenMap, ttl time.Duration, userID string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.entries[id] = &fakeEntry{
		tokens: tokens,
		meta: mapping.CacheMetadata{
			CreatedAt: time.Now(),
			TTL:       ttl,
			PiiCount:  len(tokens),
			UserID:    userID,
		},
	}
	return nil
}

func (f *fakeMappingStore) Get(ctx context.Context, id string) (mapping.TokenMap, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	e, ok := f.entries[id]
	if !ok {
		return nil, nil
	}
	return e.tokens, nil
}

func (f *fakeMappingStore) GetMetadata(ctx context.Context, id string) (*mapping.CacheMetadata, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	e, ok := f.entries[id]
	if !ok {
		return nil, nil
	}
	meta := e.meta
	return &meta, nil
}

func (f *fakeMappingStore) Extend(ctx context.Context, id string, ttl time.Duration) error {
	if f.failWith != nil {
		return f.failWith
	}
	if e, ok := f.entries[id]; ok {
		e.meta.TTL = ttl
	}
	return nil
}

func (f *fakeMappingStore) Delete(ctx context.Context, id string) error {
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.entries, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMappingStore) FlagError(ctx context.Context, id string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if e, ok := f.entries[id]; ok {
		e.meta.ErrorCount++
	}
	return nil
}

func (f *fakeMappingStore) ListConversations(ctx context.Context) ([]string, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var ids []string
	for id := range f.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeMappingStore) UserConversations(ctx context.Context, userID string) ([]string, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return nil, nil
}

func (f *fakeMappingStore) UsedMemory(ctx context.Context) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	return f.usedMemory, nil
}

func TestStoreMapping_Validation(t *testing.T) {
	manager := NewPIICacheManager(newFakeStore(), 100)
	ctx := context.Background()
	tokens := mapping.TokenMap{"T": "v"}

	tests := []struct {
		name string
		call func() error
	}{
		{"empty conversation id", func() error {
			return manager.StoreMapping(ctx, "", tokens, time.Minute, "")
		}},
		{"empty token map", func() error {
			return manager.StoreMapping(ctx, "conv-1", mapping.TokenMap{}, time.Minute, "")
		}},
		{"nil token map", func() error {
			return manager.StoreMapping(ctx, "conv-1", nil, time.Minute, "")
		}},
		{"zero ttl", func() error {
			return manager.StoreMapping(ctx, "conv-1", tokens, 0, "")
		}},
		{"negative ttl", func() error {
			return manager.StoreMapping(ctx, "conv-1", tokens, -time.Minute, "")
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)
			var verr pkgError.ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestStoreMapping_PropagatesStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("connection refused")
	manager := NewPIICacheManager(store, 100)

	err := manager.StoreMapping(context.Background(), "conv-1", mapping.TokenMap{"T": "v"}, time.Minute, "")
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
}

func TestGetMapping_NotFoundIsNotAnError(t *testing.T) {
	manager := NewPIICacheManager(newFakeStore(), 100)

	tokens, err := manager.GetMapping(context.Background(), "never-stored")
	require.NoError(t, err)
	assert.Nil(t, tokens)
}

func TestReadPaths_FailOpenWithTypedError(t *testing.T) {
	store := newFakeStore()
	store.put("conv-1", time.Minute, 0)
	store.failWith = errors.New("connection refused")
	manager := NewPIICacheManager(store, 100)
	ctx := context.Background()

	tokens, err := manager.GetMapping(ctx, "conv-1")
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, mapping.ErrStoreUnavailable)

	meta, err := manager.GetMetadata(ctx, "conv-1")
	assert.Nil(t, meta)
	assert.ErrorIs(t, err, mapping.ErrStoreUnavailable)

	assert.ErrorIs(t, manager.ExtendTTL(ctx, "conv-1", time.Minute), mapping.ErrStoreUnavailable)
	assert.ErrorIs(t, manager.DeleteMapping(ctx, "conv-1"), mapping.ErrStoreUnavailable)
	assert.ErrorIs(t, manager.FlagError(ctx, "conv-1"), mapping.ErrStoreUnavailable)

	_, err = manager.UserConversations(ctx, "u1")
	assert.ErrorIs(t, err, mapping.ErrStoreUnavailable)

	_, err = manager.Cleanup(ctx)
	assert.ErrorIs(t, err, mapping.ErrStoreUnavailable)
}

func TestExtendTTL_RejectsNonPositive(t *testing.T) {
	manager := NewPIICacheManager(newFakeStore(), 100)

	err := manager.ExtendTTL(context.Background(), "conv-1", 0)
	require.Error(t, err)
	var verr pkgError.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestCleanup_NoopUnderThreshold(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 10; i++ {
		store.put(fmtID(i), time.Duration(i)*time.Minute, 0)
	}
	// 1 MB budget, usage at 80%: below the 90% trigger
	store.usedMemory = 800 * 1024
	manager := NewPIICacheManager(store, 1)

	removed, err := manager.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Empty(t, store.deleted)
}

func TestCleanup_NoopWhenEmpty(t *testing.T) {
	store := newFakeStore()
	store.usedMemory = 10 * 1024 * 1024
	manager := NewPIICacheManager(store, 1)

	removed, err := manager.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCleanup_EvictsOldestQuarterOfNonErrorEntries(t *testing.T) {
	store := newFakeStore()

	// 8 non-error entries, oldest first: conv-0 .. conv-7
	for i := 0; i < 8; i++ {
		store.put(fmtID(i), time.Duration(100-i)*time.Minute, 0)
	}
	// 3 error-flagged entries, older than everything else
	store.put("err-0", 500*time.Minute, 1)
	store.put("err-1", 400*time.Minute, 2)
	store.put("err-2", 300*time.Minute, 1)

	// 1 MB budget, usage above 90%
	store.usedMemory = 1024 * 1024
	manager := NewPIICacheManager(store, 1)

	removed, err := manager.Cleanup(context.Background())
	require.NoError(t, err)

	// floor(8 * 0.25) = 2, the two oldest non-error entries; the error
	// entries survive even though they are the oldest overall
	assert.Equal(t, 2, removed)
	assert.ElementsMatch(t, []string{"conv-0", "conv-1"}, store.deleted)
	for _, id := range []string{"err-0", "err-1", "err-2"} {
		_, ok := store.entries[id]
		assert.True(t, ok, "error-flagged entry %s must not be evicted", id)
	}
}

func TestCleanup_ErrorOnlyCacheEvictsNothing(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 6; i++ {
		store.put(fmtID(i), time.Duration(100+i)*time.Minute, 1)
	}
	store.usedMemory = 2 * 1024 * 1024
	manager := NewPIICacheManager(store, 1)

	removed, err := manager.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Len(t, store.entries, 6)
}

func TestFlagError_ProtectsEntryFromCleanup(t *testing.T) {
	store := newFakeStore()
	store.put("conv-old", 100*time.Minute, 0)
	store.put("conv-new", time.Minute, 0)
	manager := NewPIICacheManager(store, 1)

	require.NoError(t, manager.FlagError(context.Background(), "conv-old"))

	store.usedMemory = 2 * 1024 * 1024
	removed, err := manager.Cleanup(context.Background())
	require.NoError(t, err)

	// Only one non-error entry remains: floor(1 * 0.25) = 0
	assert.Zero(t, removed)
	_, ok := store.entries["conv-old"]
	assert.True(t, ok)
}

func fmtID(i int) string {
	return "conv-" + strconv.Itoa(i)
}
