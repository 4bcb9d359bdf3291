package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	pkgError "github.com/sting-chat/sting-cache/pkg/error"
	"github.com/sting-chat/sting-cache/redaction/domain/mapping"
)

const (
	// cleanupThreshold is the fraction of the configured maximum above which
	// a cleanup pass actually evicts. Below it cleanup is a no-op, which
	// keeps repeated passes from thrashing around the limit.
	cleanupThreshold = 0.9

	// cleanupFraction is the share of non-error entries removed per pass,
	// oldest first.
	cleanupFraction = 0.25
)

// PIICacheManager owns the lifecycle of per-conversation token maps: store,
// fetch, TTL extension, deletion and memory-pressure cleanup.
//
// Read-style operations fail open: when the store is unreachable they log,
// return a result wrapped around mapping.ErrStoreUnavailable and let the
// caller continue without PII restoration. StoreMapping is the exception and
// propagates every failure, because silently dropping a fresh mapping would
// make restoration fail later with no way to recover the original values.
type PIICacheManager struct {
	store         mapping.MappingStore
	maxCacheBytes int64
}

// NewPIICacheManager creates a manager over the given store. maxCacheMB is
// the memory budget the cleanup pass enforces.
func NewPIICacheManager(store mapping.MappingStore, maxCacheMB int64) *PIICacheManager {
	return &PIICacheManager{
		store:         store,
		maxCacheBytes: maxCacheMB * 1024 * 1024,
	}
}

// StoreMapping durably stores a conversation's token map with the given TTL.
// The map, its metadata and the optional user index entry are written as one
// batch. Any failure propagates to the caller.
func (m *PIICacheManager) StoreMapping(ctx context.Context, conversationID string, tokens mapping.TokenMap, ttl time.Duration, userID string) error {
	if err := validateStoreMapping(conversationID, tokens, ttl); err != nil {
		return err
	}

	if err := m.store.Store(ctx, conversationID, tokens, ttl, userID); err != nil {
		logrus.Errorf("[PIICacheManager] Failed to store mapping for %s: %v", conversationID, err)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"pii_count":       len(tokens),
		"ttl_seconds":     int64(ttl.Seconds()),
	}).Debug("[PIICacheManager] Stored PII mapping")
	return nil
}

// GetMapping returns the token map for a conversation. A missing or expired
// entry yields (nil, nil): the caller cannot restore PII, which is a
// recoverable condition, not a failure.
func (m *PIICacheManager) GetMapping(ctx context.Context, conversationID string) (mapping.TokenMap, error) {
	tokens, err := m.store.Get(ctx, conversationID)
	if err != nil {
		logrus.Warnf("[PIICacheManager] Store unreachable getting mapping %s: %v", conversationID, err)
		return nil, fmt.Errorf("get mapping %s: %w", conversationID, mapping.ErrStoreUnavailable)
	}
	if tokens == nil {
		logrus.Debugf("[PIICacheManager] No mapping found for %s", conversationID)
		return nil, nil
	}
	return tokens, nil
}

// GetMetadata returns the bookkeeping record for a conversation, or
// (nil, nil) when absent. Fails open like GetMapping.
func (m *PIICacheManager) GetMetadata(ctx context.Context, conversationID string) (*mapping.CacheMetadata, error) {
	meta, err := m.store.GetMetadata(ctx, conversationID)
	if err != nil {
		logrus.Warnf("[PIICacheManager] Store unreachable getting metadata %s: %v", conversationID, err)
		return nil, fmt.Errorf("get metadata %s: %w", conversationID, mapping.ErrStoreUnavailable)
	}
	return meta, nil
}

// ExtendTTL renews the lifetime of a mapping and its metadata when a
// conversation stays active past its original window. Extending a missing
// entry is a silent no-op.
func (m *PIICacheManager) ExtendTTL(ctx context.Context, conversationID string, ttl time.Duration) error {
	if err := validation.Validate(int64(ttl.Seconds()), validation.Min(int64(1))); err != nil {
		return pkgError.ValidationError("ttl must be at least one second")
	}

	if err := m.store.Extend(ctx, conversationID, ttl); err != nil {
		logrus.Warnf("[PIICacheManager] Store unreachable extending %s: %v", conversationID, err)
		return fmt.Errorf("extend mapping %s: %w", conversationID, mapping.ErrStoreUnavailable)
	}
	return nil
}

// DeleteMapping removes a conversation's token map and metadata together.
// Deleting an absent mapping is not an error.
func (m *PIICacheManager) DeleteMapping(ctx context.Context, conversationID string) error {
	if err := m.store.Delete(ctx, conversationID); err != nil {
		logrus.Warnf("[PIICacheManager] Store unreachable deleting %s: %v", conversationID, err)
		return fmt.Errorf("delete mapping %s: %w", conversationID, mapping.ErrStoreUnavailable)
	}
	return nil
}

// FlagError marks a conversation's entry after a failed restoration so the
// cleanup pass preserves it for debugging.
func (m *PIICacheManager) FlagError(ctx context.Context, conversationID string) error {
	if err := m.store.FlagError(ctx, conversationID); err != nil {
		logrus.Warnf("[PIICacheManager] Store unreachable flagging %s: %v", conversationID, err)
		return fmt.Errorf("flag mapping %s: %w", conversationID, mapping.ErrStoreUnavailable)
	}
	return nil
}

// UserConversations returns the conversation ids indexed for a user. The
// index outlives the mappings it references, so returned ids may already be
// expired.
func (m *PIICacheManager) UserConversations(ctx context.Context, userID string) ([]string, error) {
	ids, err := m.store.UserConversations(ctx, userID)
	if err != nil {
		logrus.Warnf("[PIICacheManager] Store unreachable listing conversations for %s: %v", userID, err)
		return nil, fmt.Errorf("list conversations for %s: %w", userID, mapping.ErrStoreUnavailable)
	}
	return ids, nil
}

type cleanupEntry struct {
	conversationID string
	createdAt      time.Time
	hasError       bool
}

// Cleanup runs one memory-pressure eviction pass and returns the number of
// entries removed.
//
// Below 90% of the configured maximum the pass is a no-op. Above it, the
// oldest quarter of non-error entries is deleted; entries flagged with
// errors are never evicted, even when they are the oldest in the cache.
// A cache dominated by flagged entries can therefore stay over budget —
// that tradeoff favors debuggability of failed restorations.
func (m *PIICacheManager) Cleanup(ctx context.Context) (int, error) {
	ids, err := m.store.ListConversations(ctx)
	if err != nil {
		logrus.Warnf("[PIICacheManager] Store unreachable listing mappings: %v", err)
		return 0, fmt.Errorf("cleanup: %w", mapping.ErrStoreUnavailable)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	used, err := m.store.UsedMemory(ctx)
	if err != nil {
		logrus.Warnf("[PIICacheManager] Store unreachable reading memory usage: %v", err)
		return 0, fmt.Errorf("cleanup: %w", mapping.ErrStoreUnavailable)
	}

	threshold := int64(float64(m.maxCacheBytes) * cleanupThreshold)
	if used < threshold {
		logrus.Debugf("[PIICacheManager] Memory usage %s below threshold %s, skipping cleanup",
			humanize.Bytes(uint64(used)), humanize.Bytes(uint64(threshold)))
		return 0, nil
	}

	entries := make([]cleanupEntry, 0, len(ids))
	nonError := 0
	for _, id := range ids {
		meta, err := m.store.GetMetadata(ctx, id)
		if err != nil || meta == nil {
			// Expired between SCAN and HGETALL, or unreadable: skip
			continue
		}
		entries = append(entries, cleanupEntry{
			conversationID: id,
			createdAt:      meta.CreatedAt,
			hasError:       meta.HasError(),
		})
		if !meta.HasError() {
			nonError++
		}
	}

	// Non-error entries first, oldest first within each class. Error-flagged
	// entries sink to the back and are never touched.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hasError != entries[j].hasError {
			return !entries[i].hasError
		}
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	target := int(float64(nonError) * cleanupFraction)
	removed := 0
	for _, entry := range entries {
		if removed >= target {
			break
		}
		if entry.hasError {
			break
		}
		if err := m.store.Delete(ctx, entry.conversationID); err != nil {
			logrus.Warnf("[PIICacheManager] Failed to evict %s: %v", entry.conversationID, err)
			continue
		}
		removed++
	}

	logrus.WithFields(logrus.Fields{
		"removed":     removed,
		"total":       len(entries),
		"used_memory": humanize.Bytes(uint64(used)),
	}).Info("[PIICacheManager] Cleanup pass finished")
	return removed, nil
}

func validateStoreMapping(conversationID string, tokens mapping.TokenMap, ttl time.Duration) error {
	if err := validation.Validate(conversationID, validation.Required); err != nil {
		return pkgError.ValidationError("conversation id is required")
	}
	if err := validation.Validate(map[string]string(tokens), validation.Required); err != nil {
		return pkgError.ValidationError("token map must not be empty")
	}
	if err := validation.Validate(int64(ttl.Seconds()), validation.Min(int64(1))); err != nil {
		return pkgError.ValidationError("ttl must be at least one second")
	}
	return nil
}
