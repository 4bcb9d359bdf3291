package repository

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sting-chat/sting-cache/redaction/domain/mapping"
)

// Hash field layout of the metadata record. Everything is stored as strings
// because the backing store only holds string-typed hash fields.
const (
	fieldCreatedAt  = "created_at"
	fieldTTL        = "ttl"
	fieldPiiCount   = "pii_count"
	fieldUserID     = "user_id"
	fieldErrorCount = "error_count"
)

func encodeMetadata(meta mapping.CacheMetadata) map[string]string {
	return map[string]string{
		fieldCreatedAt:  strconv.FormatInt(meta.CreatedAt.Unix(), 10),
		fieldTTL:        strconv.FormatInt(int64(meta.TTL.Seconds()), 10),
		fieldPiiCount:   strconv.Itoa(meta.PiiCount),
		fieldUserID:     meta.UserID,
		fieldErrorCount: strconv.Itoa(meta.ErrorCount),
	}
}

func decodeMetadata(fields map[string]string) (*mapping.CacheMetadata, error) {
	createdAt, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed %s field %q: %w", fieldCreatedAt, fields[fieldCreatedAt], err)
	}
	ttl, err := strconv.ParseInt(fields[fieldTTL], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed %s field %q: %w", fieldTTL, fields[fieldTTL], err)
	}
	piiCount, err := strconv.Atoi(fields[fieldPiiCount])
	if err != nil {
		return nil, fmt.Errorf("malformed %s field %q: %w", fieldPiiCount, fields[fieldPiiCount], err)
	}

	// error_count is absent on entries written before the first FlagError.
	errorCount := 0
	if raw, ok := fields[fieldErrorCount]; ok && raw != "" {
		errorCount, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed %s field %q: %w", fieldErrorCount, raw, err)
		}
	}

	userID := fields[fieldUserID]
	if userID == "" {
		userID = mapping.UnknownUser
	}

	return &mapping.CacheMetadata{
		CreatedAt:  time.Unix(createdAt, 0),
		TTL:        time.Duration(ttl) * time.Second,
		PiiCount:   piiCount,
		UserID:     userID,
		ErrorCount: errorCount,
	}, nil
}
