package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/simon020286/go-promptchain/models"
	"github.com/simon020286/go-promptchain/runs"
	"github.com/simon020286/go-promptchain/store"
	"github.com/spf13/cobra"
)

func newRunsCmd(c *cli) *cobra.Command {
	var (
		opts  store.ListOptions
		group string
		gap   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List saved runs, merged into continuation groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(c)
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := st.ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}
			sorted := runs.SortRuns(runs.Merge(items))
			if sorted == nil {
				sorted = []*models.Run{}
			}

			var out any
			switch group {
			case "":
				out = sorted
			case "time":
				out = runs.GroupByTime(sorted, gap)
			case "row":
				rows := make([]models.InputRow, 0, len(sorted))
				for _, run := range sorted {
					rows = append(rows, run.Inputs)
				}
				out = runs.GroupByRow(sorted, runs.NewRowIndex(rows))
			default:
				return fmt.Errorf("invalid group %q, expected 'time' or 'row'", group)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "Only runs of this execution")
	cmd.Flags().StringVar(&opts.Label, "label", "", "Only runs carrying this label")
	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "Only runs of this user")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of runs read")
	cmd.Flags().StringVar(&group, "group", "", "Group by 'time' or 'row'")
	cmd.Flags().DurationVar(&gap, "gap", runs.DefaultGroupGap, "Idle time separating time groups")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "rate <id> <rating>",
			Short: "Rate a saved run",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRun(c, args[0], func(st *store.SQLite, id int64) error {
					return st.SetRating(cmd.Context(), id, args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "label <id> <label>",
			Short: "Label a saved run",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRun(c, args[0], func(st *store.SQLite, id int64) error {
					return st.AddLabel(cmd.Context(), id, args[1])
				})
			},
		},
	)
	return cmd
}

func openStore(c *cli) (*store.SQLite, error) {
	if c.cfg.Store.Path == "" {
		return nil, errors.New("no run store configured")
	}
	return store.Open(c.cfg.Store.Path)
}

func withRun(c *cli, rawID string, fn func(st *store.SQLite, id int64) error) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q", rawID)
	}

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(st, id)
}
