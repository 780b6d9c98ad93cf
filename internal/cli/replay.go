package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gzhole/gameblocker/internal/cadence"
	"github.com/gzhole/gameblocker/internal/config"
	"github.com/gzhole/gameblocker/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay <trace.jsonl>",
	Short: "Replay a recorded page trace through the detector",
	Long: `Replay a JSONL trace of navigate, tick, key, keys and loaded events
against a fresh session and print the block signal, if any.

  gameblocker replay traces/wasd.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: replayCommand,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func replayCommand(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	log, err := buildLogger(s)
	if err != nil {
		return err
	}
	defer log.Sync()

	events, err := replay.ParseFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	p := &replay.Player{
		Loader:  config.NewLoader(config.NewSource(s), log, nil),
		Logger:  log,
		BaseDir: filepath.Dir(args[0]),
	}
	res, err := p.Play(context.Background(), events)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replayed %d events, %d keys\n", len(events), res.Keys)
	if len(res.Signals) == 0 {
		fmt.Fprintln(out, "Result:  not blocked")
	}
	for _, sig := range res.Signals {
		fmt.Fprintf(out, "BLOCK    %s (%s): %s\n", sig.Domain, sig.Source, sig.Reason)
	}
	st := res.State
	fmt.Fprintf(out, "Domain:  %s (%s)\n", st.Domain, st.Classification)
	fmt.Fprintf(out, "Phase:   %s, window %d/%d\n", st.Phase, st.WindowCount, cadence.WindowSize)
	return nil
}
