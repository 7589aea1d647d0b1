package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/coachbot/internal/persistence"
)

func newPruneCmd(opts *options) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions inactive for more than --days days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				return errors.New("--days must be > 0")
			}
			repo, err := opts.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			deleted, err := persistence.NewAdapter(repo, persistence.Options{}).PruneOlderThan(cmd.Context(), days)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d sessions inactive for more than %d days\n", deleted, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 14, "retention horizon in days")
	return cmd
}

// exportRecord is one NDJSON line of the export.
type exportRecord struct {
	UserID         int64           `json:"user_id"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Session        json.RawMessage `json:"session"`
}

func newExportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write every stored session to stdout as NDJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := opts.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := repo.ScanAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("scan sessions: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, rec := range records {
				line := exportRecord{
					UserID:         rec.UserID,
					LastActivityAt: rec.LastActivityAt,
					UpdatedAt:      rec.UpdatedAt,
					Session:        json.RawMessage(rec.Data),
				}
				if !json.Valid(rec.Data) {
					line.Session = json.RawMessage("null")
				}
				if err := enc.Encode(line); err != nil {
					return fmt.Errorf("write record %d: %w", rec.UserID, err)
				}
			}
			return nil
		},
	}
}
