package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sting-chat/sting-cache/redaction/domain/mapping"
)

// newClockedStore returns a store whose clock can be advanced by the test.
func newClockedStore() (*MemoryMappingStore, *time.Time) {
	current := time.Now()
	ms := NewMemoryMappingStore()
	ms.now = func() time.Time { return current }
	return ms, &current
}

func TestMemoryMappingStore_RoundTrip(t *testing.T) {
	ms, _ := newClockedStore()
	ctx := context.Background()
	convID := uuid.NewString()

	tokens := mapping.TokenMap{
		"PERSON_1": "John Doe",
		"EMAIL_1":  "john@example.com",
	}

	require.NoError(t, ms.Store(ctx, convID, tokens, 300*time.Second, "u1"))

	got, err := ms.Get(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, tokens, got)

	meta, err := ms.GetMetadata(ctx, convID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta.PiiCount)
	assert.Equal(t, "u1", meta.UserID)
	assert.Equal(t, 300*time.Second, meta.TTL)
	assert.False(t, meta.HasError())
}

func TestMemoryMappingStore_RoundTripIsolatedCopy(t *testing.T) {
	ms, _ := newClockedStore()
	ctx := context.Background()

	tokens := mapping.TokenMap{"TOKEN_1": "secret"}
	require.NoError(t, ms.Store(ctx, "conv-1", tokens, time.Minute, ""))

	// Mutating either side must not leak into the stored mapping
	tokens["TOKEN_1"] = "changed"
	got, err := ms.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "secret", got["TOKEN_1"])

	got["TOKEN_1"] = "changed again"
	again, err := ms.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "secret", again["TOKEN_1"])
}

func TestMemoryMappingStore_UnknownUserRecorded(t *testing.T) {
	ms, _ := newClockedStore()
	ctx := context.Background()

	require.NoError(t, ms.Store(ctx, "conv-1", mapping.TokenMap{"T": "v"}, time.Minute, ""))

	meta, err := ms.GetMetadata(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, mapping.UnknownUser, meta.UserID)
}

func TestMemoryMappingStore_Expiry(t *testing.T) {
	ms, clock := newClockedStore()
	ctx := context.Background()

	require.NoError(t, ms.Store(ctx, "conv-1", mapping.TokenMap{"T": "v"}, time.Second, ""))

	got, err := ms.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	*clock = clock.Add(2 * time.Second)

	got, err = ms.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, got, "expired mapping must read as not-found")

	meta, err := ms.GetMetadata(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, meta, "metadata expires together with the mapping")
}

func TestMemoryMappingStore_ExtendPreservesData(t *testing.T) {
	ms, clock := newClockedStore()
	ctx := context.Background()

	tokens := mapping.TokenMap{"TOKEN_1": "john@example.com"}
	require.NoError(t, ms.Store(ctx, "conv-42", tokens, time.Second, ""))

	require.NoError(t, ms.Extend(ctx, "conv-42", time.Hour))

	// Past the original TTL but inside the extended one
	*clock = clock.Add(10 * time.Second)

	got, err := ms.Get(ctx, "conv-42")
	require.NoError(t, err)
	assert.Equal(t, tokens, got)

	meta, err := ms.GetMetadata(ctx, "conv-42")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, time.Hour, meta.TTL)
}

func TestMemoryMappingStore_ExtendMissingIsNoop(t *testing.T) {
	ms, _ := newClockedStore()
	ctx := context.Background()

	assert.NoError(t, ms.Extend(ctx, "never-stored", time.Hour))

	got, err := ms.Get(ctx, "never-stored")
	require.NoError(t, err)
	assert.Nil(t, got, "extend must not resurrect a missing mapping")
}

func TestMemoryMappingStore_DeleteIdempotent(t *testing.T) {
	ms, _ := newClockedStore()
	ctx := context.Background()

	require.NoError(t, ms.Store(ctx, "conv-1", mapping.TokenMap{"T": "v"}, time.Minute, ""))

	assert.NoError(t, ms.Delete(ctx, "conv-1"))
	assert.NoError(t, ms.Delete(ctx, "conv-1"))
	assert.NoError(t, ms.Delete(ctx, "never-stored"))

	got, err := ms.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	meta, err := ms.GetMetadata(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestMemoryMappingStore_UserIndex(t *testing.T) {
	ms, clock := newClockedStore()
	ctx := context.Background()

	require.NoError(t, ms.Store(ctx, "conv-1", mapping.TokenMap{"T": "v"}, time.Minute, "u1"))
	require.NoError(t, ms.Store(ctx, "conv-2", mapping.TokenMap{"T": "v"}, time.Minute, "u1"))

	ids, err := ms.UserConversations(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv-1", "conv-2"}, ids)

	// The index outlives the mappings by the grace period: dangling ids are
	// expected and must be tolerated by readers.
	*clock = clock.Add(time.Minute + time.Second)

	ids, err = ms.UserConversations(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv-1", "conv-2"}, ids)

	got, err := ms.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Past the grace period the index itself is gone
	*clock = clock.Add(mapping.UserIndexGrace)

	ids, err = ms.UserConversations(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryMappingStore_FlagError(t *testing.T) {
	ms, _ := newClockedStore()
	ctx := context.Background()

	require.NoError(t, ms.Store(ctx, "conv-1", mapping.TokenMap{"T": "v"}, time.Minute, ""))

	require.NoError(t, ms.FlagError(ctx, "conv-1"))
	require.NoError(t, ms.FlagError(ctx, "conv-1"))

	meta, err := ms.GetMetadata(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta.ErrorCount)
	assert.True(t, meta.HasError())

	// Flagging an unknown conversation is a no-op, not an error
	assert.NoError(t, ms.FlagError(ctx, "never-stored"))
}

func TestMemoryMappingStore_ListAndMemory(t *testing.T) {
	ms, _ := newClockedStore()
	ctx := context.Background()

	ids, err := ms.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	used, err := ms.UsedMemory(ctx)
	require.NoError(t, err)
	assert.Zero(t, used)

	require.NoError(t, ms.Store(ctx, "conv-1", mapping.TokenMap{"TOKEN": "value"}, time.Minute, ""))
	require.NoError(t, ms.Store(ctx, "conv-2", mapping.TokenMap{"TOKEN": "value"}, time.Minute, ""))

	ids, err = ms.ListConversations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv-1", "conv-2"}, ids)

	used, err = ms.UsedMemory(ctx)
	require.NoError(t, err)
	assert.Greater(t, used, int64(0))
}
