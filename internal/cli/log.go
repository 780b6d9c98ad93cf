package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/gameblocker/internal/logger"
)

var (
	logFilterSource string
	logFilterDomain string
	logLast         int
	logSummary      bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the block audit log",
	Long: `View the GameBlocker block log with filtering and summary options.

Examples:
  gameblocker log                        # Show all blocks
  gameblocker log --last 20              # Show last 20 blocks
  gameblocker log --source cadence       # Show only cadence blocks
  gameblocker log --domain example.com   # Show blocks for a domain and its subdomains
  gameblocker log --summary              # Show summary stats`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterSource, "source", "", "Filter by source (immediate, cadence, words, connections)")
	logCmd.Flags().StringVar(&logFilterDomain, "domain", "", "Filter by domain")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	events, err := logger.ReadEvents(s.AuditLogPath)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No blocks recorded.")
		return nil
	}

	filtered := filterEvents(events, logFilterSource, logFilterDomain)

	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(out, events)
		return nil
	}

	printEvents(out, filtered)
	return nil
}

func filterEvents(events []logger.BlockEvent, source, domain string) []logger.BlockEvent {
	if source == "" && domain == "" {
		return events
	}
	domain = strings.ToLower(domain)

	var filtered []logger.BlockEvent
	for _, e := range events {
		if source != "" && !strings.EqualFold(e.Source, source) {
			continue
		}
		if domain != "" && e.Domain != domain && !strings.HasSuffix(e.Domain, "."+domain) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printEvents(out io.Writer, events []logger.BlockEvent) {
	for _, e := range events {
		fmt.Fprintf(out, "%s %s %-11s %s\n", sourceIcon(e.Source), formatTimestamp(e.Timestamp), e.Source, e.Domain)
		fmt.Fprintf(out, "     Reason: %s\n", e.Reason)
		if e.URL != "" {
			fmt.Fprintf(out, "     URL:    %s\n", e.URL)
		}
		fmt.Fprintln(out)
	}
}

func printSummary(out io.Writer, all []logger.BlockEvent) {
	bySource := map[string]int{}
	byDomain := map[string]int{}
	for _, e := range all {
		bySource[e.Source]++
		byDomain[e.Domain]++
	}

	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintln(out, "  GameBlocker Block Summary")
	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintf(out, "  Total blocks:    %d\n", len(all))
	fmt.Fprintf(out, "  Immediate:       %d\n", bySource["immediate"])
	fmt.Fprintf(out, "  Cadence:         %d\n", bySource["cadence"])
	fmt.Fprintf(out, "  Banned words:    %d\n", bySource["words"])
	fmt.Fprintf(out, "  Connections:     %d\n", bySource["connections"])
	fmt.Fprintln(out, "═══════════════════════════════════════════")
	fmt.Fprintf(out, "  First block:     %s\n", formatTimestamp(all[0].Timestamp))
	fmt.Fprintf(out, "  Last block:      %s\n", formatTimestamp(all[len(all)-1].Timestamp))

	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool {
		if byDomain[domains[i]] != byDomain[domains[j]] {
			return byDomain[domains[i]] > byDomain[domains[j]]
		}
		return domains[i] < domains[j]
	})
	if len(domains) > 10 {
		domains = domains[:10]
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Top domains:")
	for _, d := range domains {
		fmt.Fprintf(out, "    %4d  %s\n", byDomain[d], d)
	}
	fmt.Fprintln(out)
}

func sourceIcon(source string) string {
	switch source {
	case "immediate":
		return "\xf0\x9f\x9b\x91" // stop sign
	case "cadence":
		return "\xf0\x9f\x8e\xae" // game controller
	case "words", "connections":
		return "\xf0\x9f\x94\x8d" // magnifying glass
	default:
		return "\xe2\x9d\x93" // question mark
	}
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
