package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/gameblocker/internal/config"
)

var listsCmd = &cobra.Command{
	Use:   "lists",
	Short: "Load the list documents and report what was found",
	Long: `Load all five list documents from the configured directory or URL and
print how many entries each contributes. Documents that fail to load are
reported with their error; a live session would treat them as empty.

  gameblocker lists
  gameblocker lists --lists ./testdata/lists`,
	RunE: listsCommand,
}

func init() {
	rootCmd.AddCommand(listsCmd)
}

func listsCommand(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	log, err := buildLogger(s)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	bundle := config.NewLoader(config.NewSource(s), log, nil).Load(ctx)
	lists, err := bundle.Wait(ctx)
	if err != nil {
		return err
	}
	errs := bundle.Errors()

	out := cmd.OutOrStdout()
	where := s.ListsDir
	if s.ListsURL != "" {
		where = s.ListsURL
	}
	fmt.Fprintf(out, "Lists from %s\n\n", where)

	counts := map[config.Document]int{
		config.DocSequences:         len(lists.Sequences),
		config.DocAllowlist:         len(lists.Allow),
		config.DocBlockImmediately:  len(lists.BlockImmediately),
		config.DocBannedConnections: len(lists.BannedConnections),
		config.DocBannedWords:       len(lists.BannedWords),
	}
	for _, doc := range config.Documents {
		status := "ok"
		if err := errs[doc]; err != nil {
			status = "error: " + err.Error()
		}
		fmt.Fprintf(out, "  %-28s %4d  %s\n", doc, counts[doc], status)
	}

	if len(lists.Sequences) > 0 {
		fmt.Fprintln(out, "\nSequences:")
		for _, seq := range lists.Sequences {
			fmt.Fprintf(out, "  %-16s threshold %.2f  keys %v\n", seq.ID, seq.Threshold, seq.Keys)
		}
	}
	return nil
}
