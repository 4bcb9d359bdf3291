package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/sting-chat/sting-cache/infrastructure/valkey"
	"github.com/sting-chat/sting-cache/redaction/domain/mapping"
)

const (
	mapKeySuffix  = ":map"
	metaKeySuffix = ":meta"
)

// ValkeyMappingStore implements mapping.MappingStore on a shared Valkey
// instance. Multi-key writes go through DoMulti so the whole batch is
// submitted in one round trip: no other command from this connection can
// interleave, which is the atomicity the mapping/metadata pairing relies on.
// Concurrent writers from other connections still race with last-writer-wins
// semantics at the store.
type ValkeyMappingStore struct {
	client *valkey.Client
	prefix string
}

// NewValkeyMappingStore creates a new ValkeyMappingStore instance.
// The client should be created via valkey.NewClient and passed here.
func NewValkeyMappingStore(client *valkey.Client) *ValkeyMappingStore {
	return &ValkeyMappingStore{
		client: client,
		prefix: client.Key("pii") + ":",
	}
}

// mapKey returns e.g. "sting:pii:conv:{id}:map".
func (s *ValkeyMappingStore) mapKey(conversationID string) string {
	return s.prefix + "conv:" + conversationID + mapKeySuffix
}

func (s *ValkeyMappingStore) metaKey(conversationID string) string {
	return s.prefix + "conv:" + conversationID + metaKeySuffix
}

func (s *ValkeyMappingStore) userKey(userID string) string {
	return s.prefix + "user:" + userID + ":conversations"
}

func (s *ValkeyMappingStore) inner() valkeylib.Client {
	return s.client.Inner()
}

// Store writes the token map, its metadata and the optional user index entry
// as one pipelined batch.
func (s *ValkeyMappingStore) Store(ctx context.Context, conversationID string, tokens mapping.TokenMap, ttl time.Duration, userID string) error {
	meta := mapping.CacheMetadata{
		CreatedAt: time.Now(),
		TTL:       ttl,
		PiiCount:  len(tokens),
		UserID:    userID,
	}
	if meta.UserID == "" {
		meta.UserID = mapping.UnknownUser
	}

	ttlSeconds := int64(ttl.Seconds())

	mapCmd := s.inner().B().Hset().Key(s.mapKey(conversationID)).FieldValue()
	for token, value := range tokens {
		mapCmd = mapCmd.FieldValue(token, value)
	}

	metaCmd := s.inner().B().Hset().Key(s.metaKey(conversationID)).FieldValue()
	for field, value := range encodeMetadata(meta) {
		metaCmd = metaCmd.FieldValue(field, value)
	}

	cmds := []valkeylib.Completed{
		mapCmd.Build(),
		s.inner().B().Expire().Key(s.mapKey(conversationID)).Seconds(ttlSeconds).Build(),
		metaCmd.Build(),
		s.inner().B().Expire().Key(s.metaKey(conversationID)).Seconds(ttlSeconds).Build(),
	}

	if userID != "" {
		indexTTL := ttlSeconds + int64(mapping.UserIndexGrace.Seconds())
		cmds = append(cmds,
			s.inner().B().Sadd().Key(s.userKey(userID)).Member(conversationID).Build(),
			s.inner().B().Expire().Key(s.userKey(userID)).Seconds(indexTTL).Build(),
		)
	}

	for _, resp := range s.inner().DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to store mapping %s: %w", conversationID, err)
		}
	}
	return nil
}

// Get retrieves the token map for a conversation.
// Returns (nil, nil) if the key has expired or never existed.
func (s *ValkeyMappingStore) Get(ctx context.Context, conversationID string) (mapping.TokenMap, error) {
	cmd := s.inner().B().Hgetall().Key(s.mapKey(conversationID)).Build()
	fields, err := s.inner().Do(ctx, cmd).AsStrMap()
	if err != nil {
		if valkey.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mapping %s: %w", conversationID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return mapping.TokenMap(fields), nil
}

// GetMetadata retrieves the metadata record for a conversation.
// Returns (nil, nil) if absent.
func (s *ValkeyMappingStore) GetMetadata(ctx context.Context, conversationID string) (*mapping.CacheMetadata, error) {
	cmd := s.inner().B().Hgetall().Key(s.metaKey(conversationID)).Build()
	fields, err := s.inner().Do(ctx, cmd).AsStrMap()
	if err != nil {
		if valkey.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metadata %s: %w", conversationID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	meta, err := decodeMetadata(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata %s: %w", conversationID, err)
	}
	return meta, nil
}

// Extend re-applies expiration to both keys and updates the stored ttl field
// in one pipelined batch.
func (s *ValkeyMappingStore) Extend(ctx context.Context, conversationID string, ttl time.Duration) error {
	ttlSeconds := int64(ttl.Seconds())
	cmds := []valkeylib.Completed{
		s.inner().B().Expire().Key(s.mapKey(conversationID)).Seconds(ttlSeconds).Build(),
		s.inner().B().Hset().Key(s.metaKey(conversationID)).FieldValue().
			FieldValue(fieldTTL, fmt.Sprintf("%d", ttlSeconds)).Build(),
		s.inner().B().Expire().Key(s.metaKey(conversationID)).Seconds(ttlSeconds).Build(),
	}

	resps := s.inner().DoMulti(ctx, cmds...)
	for _, resp := range resps {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to extend mapping %s: %w", conversationID, err)
		}
	}

	// If the mapping had already expired, the HSET above resurrected a bare
	// metadata hash. Remove it so the pair stays consistent.
	if extended, err := resps[0].AsInt64(); err == nil && extended == 0 {
		logrus.Debugf("[ValkeyMappingStore] Extend on missing mapping %s, cleaning up", conversationID)
		cleanup := s.inner().B().Del().Key(s.metaKey(conversationID)).Build()
		if err := s.inner().Do(ctx, cleanup).Error(); err != nil {
			return fmt.Errorf("failed to clean up metadata for %s: %w", conversationID, err)
		}
	}
	return nil
}

// Delete removes the map and metadata keys with a single DEL. Idempotent.
func (s *ValkeyMappingStore) Delete(ctx context.Context, conversationID string) error {
	cmd := s.inner().B().Del().Key(s.mapKey(conversationID), s.metaKey(conversationID)).Build()
	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete mapping %s: %w", conversationID, err)
	}
	return nil
}

// FlagError increments the entry's error counter. Missing entries are left
// untouched so flagging cannot resurrect an expired metadata hash.
func (s *ValkeyMappingStore) FlagError(ctx context.Context, conversationID string) error {
	existsCmd := s.inner().B().Exists().Key(s.metaKey(conversationID)).Build()
	exists, err := s.inner().Do(ctx, existsCmd).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to check metadata %s: %w", conversationID, err)
	}
	if exists == 0 {
		return nil
	}

	incrCmd := s.inner().B().Hincrby().Key(s.metaKey(conversationID)).Field(fieldErrorCount).Increment(1).Build()
	if err := s.inner().Do(ctx, incrCmd).Error(); err != nil {
		return fmt.Errorf("failed to flag mapping %s: %w", conversationID, err)
	}
	return nil
}

// ListConversations enumerates every conversation holding a token map.
// Uses SCAN for production safety (non-blocking).
func (s *ValkeyMappingStore) ListConversations(ctx context.Context) ([]string, error) {
	pattern := s.prefix + "conv:*" + mapKeySuffix
	keyPrefix := s.prefix + "conv:"

	var ids []string
	var cursor uint64

	for {
		cmd := s.inner().B().Scan().Cursor(cursor).Match(pattern).Count(100).Build()
		result, err := s.inner().Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan mappings: %w", err)
		}

		for _, k := range result.Elements {
			if strings.HasPrefix(k, keyPrefix) && strings.HasSuffix(k, mapKeySuffix) {
				ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(k, keyPrefix), mapKeySuffix))
			}
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	return ids, nil
}

// UserConversations returns the conversation ids indexed for a user.
func (s *ValkeyMappingStore) UserConversations(ctx context.Context, userID string) ([]string, error) {
	cmd := s.inner().B().Smembers().Key(s.userKey(userID)).Build()
	ids, err := s.inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		if valkey.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversations for user %s: %w", userID, err)
	}
	return ids, nil
}

// UsedMemory reports the server's used memory in bytes.
func (s *ValkeyMappingStore) UsedMemory(ctx context.Context) (int64, error) {
	return s.client.UsedMemoryBytes(ctx)
}
