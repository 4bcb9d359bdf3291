package mapping

import (
	"context"
	"errors"
	"time"
)

// TokenMap holds the placeholder token -> original sensitive value pairs of
// one redaction session. A token map belongs to exactly one conversation.
type TokenMap map[string]string

// CacheMetadata is the bookkeeping record stored next to every token map.
// Both records share one key namespace and one expiration: they are written,
// extended and deleted as a single unit.
type CacheMetadata struct {
	CreatedAt  time.Time
	TTL        time.Duration
	PiiCount   int
	UserID     string
	ErrorCount int
}

// HasError reports whether the entry was flagged after a failed restoration.
// Flagged entries are preserved by memory-pressure cleanup for debugging.
func (m CacheMetadata) HasError() bool {
	return m.ErrorCount > 0
}

// UnknownUser is recorded when a mapping is stored without a user id.
const UnknownUser = "unknown"

// UserIndexGrace is how long the per-user conversation index outlives the
// mappings it references. Readers of the index must tolerate ids whose
// mapping has already expired.
const UserIndexGrace = time.Hour

// ErrStoreUnavailable marks read-path failures caused by the store being
// unreachable, as opposed to a key that simply does not exist. Callers may
// treat it the same as not-found (fail open), but tests and diagnostics can
// tell the two apart.
var ErrStoreUnavailable = errors.New("mapping store unavailable")

// MappingStore persists token maps and their metadata.
//
// Implementations must apply the multi-key writes of Store, Extend and
// Delete as a single batch: either the whole batch is visible or an error
// is returned and no new state is observed by the caller.
type MappingStore interface {
	// Store writes the token map, its metadata and (when userID is
	// non-empty) the user's conversation index entry in one batch.
	Store(ctx context.Context, conversationID string, tokens TokenMap, ttl time.Duration, userID string) error

	// Get returns the token map for a conversation, or (nil, nil) when the
	// key has expired or never existed.
	Get(ctx context.Context, conversationID string) (TokenMap, error)

	// GetMetadata returns the metadata record, or (nil, nil) when absent.
	GetMetadata(ctx context.Context, conversationID string) (*CacheMetadata, error)

	// Extend re-applies expiration to the map and metadata keys and updates
	// the stored ttl field. Extending a missing entry is a silent no-op.
	Extend(ctx context.Context, conversationID string, ttl time.Duration) error

	// Delete removes the map and metadata keys together. Idempotent.
	Delete(ctx context.Context, conversationID string) error

	// FlagError increments the entry's error counter so cleanup will keep
	// it around. Flagging a missing entry is a no-op.
	FlagError(ctx context.Context, conversationID string) error

	// ListConversations enumerates every conversation currently holding a
	// token map in the store's namespace.
	ListConversations(ctx context.Context) ([]string, error)

	// UserConversations returns the conversation ids indexed for a user.
	// Ids may reference mappings that have already expired.
	UserConversations(ctx context.Context, userID string) ([]string, error)

	// UsedMemory reports the store's used memory in bytes.
	UsedMemory(ctx context.Context) (int64, error)
}
