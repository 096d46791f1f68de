package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cocorobi/cardpool/internal/auth"
	"github.com/cocorobi/cardpool/internal/blob"
	"github.com/cocorobi/cardpool/internal/ingest"
)

var (
	ingestCSV    string
	ingestUserID string
	ingestEmail  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the ingestion pipeline on a local CSV file",
	Long: `Runs the full upload pipeline against the configured store without
going through the HTTP API. Useful with the sqlite driver for offline runs:

  cardpool ingest --csv cards.csv --user-id user-1 --email u@example.com`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "ingest: open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "ingest: migrate store")
		}

		fs, err := blob.NewFS(cfg.Blob.Dir)
		if err != nil {
			return eris.Wrap(err, "ingest: init blob store")
		}

		data, err := os.ReadFile(ingestCSV)
		if err != nil {
			return eris.Wrapf(err, "ingest: read %s", ingestCSV)
		}

		id := auth.Identity{UserID: ingestUserID, Email: ingestEmail}
		res, err := ingest.New(st, fs, cfg.Ingest).Ingest(ctx, id, filepath.Base(ingestCSV), data)
		if err != nil {
			return eris.Wrap(err, "ingest: run pipeline")
		}

		zap.L().Info("ingestion complete",
			zap.Int("records", res.RecordCount),
			zap.Int("tags", res.TagCount),
			zap.Int("new", res.Duplicates.NewRecords),
			zap.Int("updated", res.Duplicates.UpdatedRecords),
			zap.Int("skipped", res.Duplicates.DuplicatesSkipped),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCSV, "csv", "", "path to the CSV file (required)")
	ingestCmd.Flags().StringVar(&ingestUserID, "user-id", "", "user ID to ingest as (required)")
	ingestCmd.Flags().StringVar(&ingestEmail, "email", "", "email recorded on the supporter profile")
	_ = ingestCmd.MarkFlagRequired("csv")
	_ = ingestCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(ingestCmd)
}
