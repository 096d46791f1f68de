package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cocorobi/cardpool/internal/ingest"
)

var tagsUserID string

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Print a user's aggregated tags",
	Long:  "Aggregates tag columns across the user's private cards and shared-pool contributions and prints them as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "tags: open store")
		}
		defer st.Close()

		tags, err := ingest.New(st, nil, cfg.Ingest).AllTags(ctx, tagsUserID)
		if err != nil {
			return eris.Wrap(err, "tags: aggregate")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"tags": tags, "tag_count": len(tags)})
	},
}

func init() {
	tagsCmd.Flags().StringVar(&tagsUserID, "user-id", "", "user ID to aggregate tags for (required)")
	_ = tagsCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(tagsCmd)
}
