package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/sessionrelay/internal/index"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect indexed sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions in the log root",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ix := index.New(cfg.LogRoot)
		if _, err := ix.Rebuild(context.Background()); err != nil {
			return fmt.Errorf("scan log root: %w", err)
		}

		sessions := ix.GetAll(0, 0)
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMESSAGES\tLAST MODIFIED")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				s.SessionID,
				s.Name,
				s.MessageCount,
				s.LastModified.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}
