package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/coachbot/internal/persistence"
	"github.com/ashureev/coachbot/internal/store"
)

func newSessionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or show stored sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsList(cmd, opts)
		},
	}

	show := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print one stored session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, opts, args[0])
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func runSessionsList(cmd *cobra.Command, opts *options) error {
	repo, err := opts.open()
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.ScanAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan sessions: %w", err)
	}

	now := time.Now()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tSCENARIO\tSTAGE\tFREE USED\tSUBSCRIBED UNTIL\tBLOCKED\tLAST ACTIVITY")
	for _, rec := range records {
		sess, err := persistence.Decode(rec.Data, rec.UserID, rec.LastActivityAt)
		if err != nil {
			fmt.Fprintf(tw, "%d\t<malformed>\t\t\t\t\t%s\n", rec.UserID, rec.LastActivityAt.Format(time.RFC3339))
			continue
		}
		until := "-"
		if sess.Subscription.ActiveAt(now) {
			until = sess.Subscription.ExpiresAt.Format(time.RFC3339)
		}
		scenarioID := sess.ScenarioID
		if scenarioID == "" {
			scenarioID = "(default)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%t\t%s\n",
			sess.UserID, scenarioID, sess.InterviewStage, sess.FreeTurnsUsed,
			until, sess.Blocked, sess.LastActivityAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d sessions\n", len(records))
	return nil
}

func runSessionsShow(cmd *cobra.Command, opts *options, arg string) error {
	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", arg)
	}

	repo, err := opts.open()
	if err != nil {
		return err
	}
	defer repo.Close()

	rec, err := repo.Get(cmd.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no stored session for user %d", userID)
	}
	if err != nil {
		return fmt.Errorf("get session %d: %w", userID, err)
	}

	sess, err := persistence.Decode(rec.Data, rec.UserID, rec.LastActivityAt)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}
