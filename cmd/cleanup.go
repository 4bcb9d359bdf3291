package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one memory-pressure eviction pass over the PII cache",
	Long: `Inspects the store's used memory and, above 90% of the configured
budget, evicts the oldest quarter of non-error mappings. Error-flagged
entries are always preserved.`,
	Run: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(_ *cobra.Command, _ []string) {
	client, err := newValkeyClient()
	if err != nil {
		logrus.Fatalf("failed to connect to valkey: %v", err)
	}
	defer client.Close()

	manager := newPIICacheManager(client)
	removed, err := manager.Cleanup(context.Background())
	if err != nil {
		logrus.Fatalf("cleanup failed: %v", err)
	}
	logrus.Infof("cleanup removed %d mapping(s)", removed)
}
