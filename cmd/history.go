package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jfmyers9/earshot/internal/config"
	"github.com/jfmyers9/earshot/internal/history"
	"github.com/spf13/cobra"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently played tracks",
	Long: `List the tracks the daemon has seen, newest first.

The play log lives in the data directory (default: ~/.local/share/earshot/history.db)
and is pruned to history_retention whenever the daemon stops.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "Number of plays to show (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if _, err := os.Stat(cfg.HistoryDB()); errors.Is(err, os.ErrNotExist) {
		fmt.Println("No plays recorded yet. Start the daemon with 'earshot daemon'.")
		return nil
	}

	plays, err := history.Open(cfg.HistoryDB())
	if err != nil {
		return err
	}
	defer plays.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	limit, _ := cmd.Flags().GetInt("limit")
	recent, err := plays.Recent(ctx, limit)
	if err != nil {
		return err
	}

	printPlays(cmd.OutOrStdout(), recent)
	return nil
}

// printPlays writes one aligned line per play
func printPlays(w io.Writer, plays []history.Play) {
	if len(plays) == 0 {
		fmt.Fprintln(w, "No plays recorded yet.")
		return
	}
	for _, p := range plays {
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			p.StartedAt.Local().Format("2006-01-02 15:04"),
			padToWidth(p.Artist, 24),
			padToWidth(p.Title, 32),
			formatClock(p.Duration),
		)
	}
}
