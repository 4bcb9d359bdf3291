package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	searchLimit    int
	searchIsPublic bool
	searchOwnerID  string
)

var searchCmd = &cobra.Command{
	Use:   "search <jar-id> <query>",
	Short: "Fetch honey jar context for a query (debug helper)",
	Long: `Runs one context retrieval against the knowledge service through
the same bounded cache the platform uses, and prints the resulting blob.`,
	Args: cobra.ExactArgs(2),
	Run:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "maximum documents to retrieve")
	searchCmd.Flags().BoolVar(&searchIsPublic, "public", false, "search public jars only")
	searchCmd.Flags().StringVar(&searchOwnerID, "owner", "", "bot owner id for access control")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(_ *cobra.Command, args []string) {
	manager := newContextManager()
	blob := manager.GetRelevantContext(context.Background(), args[0], args[1], searchLimit, searchIsPublic, searchOwnerID)
	if blob == "" {
		fmt.Println("no context available")
		return
	}
	fmt.Println(blob)
}
