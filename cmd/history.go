// File: cmd/history.go
// Description: Inspects the snapshot journal: what the agent was shown,
// and when.

package cmd

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/nakurity/neurodesk/internal/observability"
	"github.com/nakurity/neurodesk/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	historyLimit int
	historyShow  int64
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled context snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		journal, err := store.Open(appConfig.Journal, observability.GetLogger())
		if err != nil {
			return err
		}
		defer journal.Close()

		if historyShow > 0 {
			if historyJSON {
				snap, err := journal.Snapshot(cmd.Context(), historyShow)
				if err != nil {
					return err
				}
				payload, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
				return nil
			}
			entry, err := journal.EntryByID(cmd.Context(), historyShow)
			if err != nil {
				return err
			}
			fmt.Println(entry.Rendered)
			return nil
		}

		entries, err := journal.History(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("journal is empty")
			return nil
		}
		for _, e := range entries {
			summary := ""
			if e.VisionSummary != "" {
				summary = " +vision"
			}
			fmt.Printf("%6d  %s  app=%-20s elements=%-4d%s\n",
				e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				e.ActiveApp, e.ElementCount, summary)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of entries to list")
	historyCmd.Flags().Int64Var(&historyShow, "show", 0, "print the rendered context of one entry by ID")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "with --show, print the stored snapshot as JSON")
	rootCmd.AddCommand(historyCmd)
}
