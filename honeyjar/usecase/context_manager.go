package usecase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/sting-chat/sting-cache/honeyjar/domain/knowledge"
	pkgError "github.com/sting-chat/sting-cache/pkg/error"
)

const (
	// DefaultCacheSize bounds the in-process context cache.
	DefaultCacheSize = 100
	// DefaultCacheTTL is how long a cached context blob stays fresh.
	DefaultCacheTTL = 300 * time.Second

	fingerprintLen = 8
)

type contextEntry struct {
	blob     string
	docCount int
}

// HoneyJarContextManager caches recent (jar, query) search results so
// repeated lookups within the TTL window skip the knowledge service.
//
// Context retrieval is best-effort augmentation: every failure mode
// (access denied, unknown jar, transport error) degrades to "no context"
// so the caller's larger operation proceeds without it. The cache is
// private to this process; other instances simply pay a redundant search.
type HoneyJarContextManager struct {
	searcher knowledge.Searcher
	cache    *expirable.LRU[string, contextEntry]
}

// NewHoneyJarContextManager creates a manager with the given cache bounds.
// Non-positive size or ttl fall back to the defaults.
func NewHoneyJarContextManager(searcher knowledge.Searcher, size int, ttl time.Duration) *HoneyJarContextManager {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &HoneyJarContextManager{
		searcher: searcher,
		cache:    expirable.NewLRU[string, contextEntry](size, nil, ttl),
	}
}

// cacheKey is the jar id plus a truncated md5 of the query. The 8-hex-char
// fingerprint can collide for distinct queries, in which case a hit serves
// the other query's context. Accepted tradeoff for key compactness.
func cacheKey(jarID, query string) string {
	sum := md5.Sum([]byte(query))
	return jarID + ":" + hex.EncodeToString(sum[:])[:fingerprintLen]
}

// GetRelevantContext returns a concatenated context blob for the query, or
// the empty string when no context is available. Empty search results are
// never cached, so newly indexed content is picked up on the next call.
func (m *HoneyJarContextManager) GetRelevantContext(ctx context.Context, jarID, query string, limit int, isPublic bool, ownerID string) string {
	key := cacheKey(jarID, query)
	if entry, ok := m.cache.Get(key); ok {
		logrus.Debugf("[HoneyJarContext] Cache hit for %s", key)
		return entry.blob
	}

	docs, err := m.searcher.Search(ctx, jarID, knowledge.SearchParams{
		Query:    query,
		Limit:    limit,
		IsPublic: isPublic,
		OwnerID:  ownerID,
	})
	if err != nil {
		var denied pkgError.AccessDeniedError
		var missing pkgError.NotFoundError
		switch {
		case errors.As(err, &denied):
			logrus.Warnf("[HoneyJarContext] Access denied for jar %s", jarID)
		case errors.As(err, &missing):
			logrus.Warnf("[HoneyJarContext] Honey jar %s not found", jarID)
		default:
			logrus.Warnf("[HoneyJarContext] Search failed for jar %s: %v", jarID, err)
		}
		return ""
	}

	if len(docs) == 0 {
		logrus.Debugf("[HoneyJarContext] No documents for %s", key)
		return ""
	}

	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, "["+doc.Name+"]\n"+doc.Content)
	}
	blob := strings.Join(parts, "\n\n")

	m.cache.Add(key, contextEntry{blob: blob, docCount: len(docs)})
	logrus.WithFields(logrus.Fields{
		"jar_id":    jarID,
		"documents": len(docs),
		"size":      len(blob),
	}).Debug("[HoneyJarContext] Cached retrieved context")
	return blob
}

// ClearCache drops cached entries. With a jar id only that jar's entries
// are removed; with the empty string the whole cache is purged.
func (m *HoneyJarContextManager) ClearCache(jarID string) {
	if jarID == "" {
		m.cache.Purge()
		logrus.Info("[HoneyJarContext] Cleared context cache")
		return
	}

	prefix := jarID + ":"
	removed := 0
	for _, key := range m.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.cache.Remove(key)
			removed++
		}
	}
	logrus.Infof("[HoneyJarContext] Cleared %d cached entries for jar %s", removed, jarID)
}

// Len returns the current number of cached context blobs.
func (m *HoneyJarContextManager) Len() int {
	return m.cache.Len()
}
