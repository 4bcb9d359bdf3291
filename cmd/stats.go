package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	redactionRepo "github.com/sting-chat/sting-cache/redaction/repository"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show PII cache occupancy and store memory usage",
	Run:   runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(_ *cobra.Command, _ []string) {
	client, err := newValkeyClient()
	if err != nil {
		logrus.Fatalf("failed to connect to valkey: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	store := redactionRepo.NewValkeyMappingStore(client)

	ids, err := store.ListConversations(ctx)
	if err != nil {
		logrus.Fatalf("failed to list mappings: %v", err)
	}

	used, err := store.UsedMemory(ctx)
	if err != nil {
		logrus.Fatalf("failed to read memory usage: %v", err)
	}

	fmt.Printf("mappings:    %d\n", len(ids))
	fmt.Printf("used memory: %s\n", humanize.Bytes(uint64(used)))
}
