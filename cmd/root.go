package cmd

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	globalConfig "github.com/sting-chat/sting-cache/config"
	"github.com/sting-chat/sting-cache/honeyjar/usecase"
	infraKnowledge "github.com/sting-chat/sting-cache/infrastructure/knowledge"
	"github.com/sting-chat/sting-cache/infrastructure/valkey"
	redactionRepo "github.com/sting-chat/sting-cache/redaction/repository"
	redactionUsecase "github.com/sting-chat/sting-cache/redaction/usecase"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sting-cache",
	Short: "PII mapping and honey jar context cache for the Sting platform",
	Long: `sting-cache owns the Sting platform's caching core: TTL-bounded
PII token mappings in Valkey and the bounded in-process cache of honey jar
search context.`,
}

func init() {
	// Load .env before viper re-reads the environment
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded environment from .env")
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	viper.AutomaticEnv()

	initFlags()
	cobra.OnInitialize(initEnvConfig, initLogging)
}

// initEnvConfig re-applies environment configuration after godotenv has run.
func initEnvConfig() {
	if v := viper.GetString("valkey_address"); v != "" {
		globalConfig.ValkeyAddress = v
	}
	if v := viper.GetString("valkey_password"); v != "" {
		globalConfig.ValkeyPassword = v
	}
	if viper.IsSet("valkey_db") {
		globalConfig.ValkeyDB = viper.GetInt("valkey_db")
	}
	if v := viper.GetString("valkey_key_prefix"); v != "" {
		globalConfig.ValkeyKeyPrefix = v
	}
	if v := viper.GetInt64("pii_cache_max_mb"); v > 0 {
		globalConfig.PiiCacheMaxMB = v
	}
	if v := viper.GetInt("context_cache_max_entries"); v > 0 {
		globalConfig.ContextCacheMaxEntries = v
	}
	if v := viper.GetInt("context_cache_ttl_seconds"); v > 0 {
		globalConfig.ContextCacheTTLSeconds = v
	}
	if v := viper.GetString("knowledge_service_url"); v != "" {
		globalConfig.KnowledgeServiceURL = v
	}
	if v := viper.GetString("knowledge_service_token"); v != "" {
		globalConfig.KnowledgeServiceToken = v
	}
}

func initLogging() {
	if globalConfig.AppDebug {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func initFlags() {
	rootCmd.PersistentFlags().BoolVarP(
		&globalConfig.AppDebug,
		"debug", "d",
		globalConfig.AppDebug,
		"display debug logs with --debug <true/false> | example: --debug=true",
	)
	rootCmd.PersistentFlags().StringVarP(
		&globalConfig.ValkeyAddress,
		"valkey-address", "",
		globalConfig.ValkeyAddress,
		`valkey address --valkey-address <host:port> | example: --valkey-address=localhost:6379`,
	)
	rootCmd.PersistentFlags().IntVarP(
		&globalConfig.ValkeyDB,
		"valkey-db", "",
		globalConfig.ValkeyDB,
		`valkey logical database --valkey-db <number> | example: --valkey-db=2`,
	)
	rootCmd.PersistentFlags().Int64VarP(
		&globalConfig.PiiCacheMaxMB,
		"pii-cache-max-mb", "",
		globalConfig.PiiCacheMaxMB,
		`memory budget for the PII cache cleanup pass --pii-cache-max-mb <number> | example: --pii-cache-max-mb=200`,
	)
}

// newValkeyClient connects to the configured Valkey instance.
func newValkeyClient() (*valkey.Client, error) {
	return valkey.NewClient(valkey.Config{
		Address:   globalConfig.ValkeyAddress,
		Password:  globalConfig.ValkeyPassword,
		DB:        globalConfig.ValkeyDB,
		KeyPrefix: globalConfig.ValkeyKeyPrefix,
	})
}

// newPIICacheManager is the composition root for the mapping cache: caches
// are built here and passed down explicitly, never held as ambient globals
// by the packages that use them.
func newPIICacheManager(client *valkey.Client) *redactionUsecase.PIICacheManager {
	store := redactionRepo.NewValkeyMappingStore(client)
	return redactionUsecase.NewPIICacheManager(store, globalConfig.PiiCacheMaxMB)
}

func newContextManager() *usecase.HoneyJarContextManager {
	searcher := infraKnowledge.NewClient(
		globalConfig.KnowledgeServiceURL,
		globalConfig.KnowledgeServiceToken,
		time.Duration(globalConfig.KnowledgeTimeoutSeconds)*time.Second,
	)
	return usecase.NewHoneyJarContextManager(
		searcher,
		globalConfig.ContextCacheMaxEntries,
		time.Duration(globalConfig.ContextCacheTTLSeconds)*time.Second,
	)
}

// Execute adds all child commands to the root command. This is called by
// main.main() and only needs to happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalln(err)
	}
}
