package config

import (
	"os"
	"strconv"
	"strings"
)

var (
	AppVersion = "v1.0.0"
	AppDebug   = false

	ValkeyAddress   = "localhost:6379"
	ValkeyPassword  = ""
	ValkeyDB        = 0
	ValkeyKeyPrefix = "sting"

	// PiiCacheMaxMB is the memory budget enforced by the cleanup pass.
	PiiCacheMaxMB int64 = 100

	ContextCacheMaxEntries  = 100
	ContextCacheTTLSeconds  = 300
	KnowledgeServiceURL     = "http://localhost:8010"
	KnowledgeServiceToken   = ""
	KnowledgeTimeoutSeconds = 10
)

func init() {
	if v := strings.TrimSpace(os.Getenv("VALKEY_ADDRESS")); v != "" {
		ValkeyAddress = v
	}
	if v := os.Getenv("VALKEY_PASSWORD"); v != "" {
		ValkeyPassword = v
	}
	if v := strings.TrimSpace(os.Getenv("VALKEY_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			ValkeyDB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("VALKEY_KEY_PREFIX")); v != "" {
		ValkeyKeyPrefix = v
	}
	if v := strings.TrimSpace(os.Getenv("PII_CACHE_MAX_MB")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			PiiCacheMaxMB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONTEXT_CACHE_MAX_ENTRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ContextCacheMaxEntries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CONTEXT_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ContextCacheTTLSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("KNOWLEDGE_SERVICE_URL")); v != "" {
		KnowledgeServiceURL = strings.TrimSuffix(v, "/")
	}
	if v := os.Getenv("KNOWLEDGE_SERVICE_TOKEN"); v != "" {
		KnowledgeServiceToken = v
	}
	if v := strings.TrimSpace(os.Getenv("KNOWLEDGE_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			KnowledgeTimeoutSeconds = n
		}
	}
}
