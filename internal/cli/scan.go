package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gzhole/gameblocker/internal/config"
	"github.com/gzhole/gameblocker/internal/policy"
	"github.com/gzhole/gameblocker/internal/scanner"
)

var (
	scanURL  string
	scanHTML string
	scanText string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Classify a URL and scan a saved page once",
	Long: `Run the domain check and the one-shot content scan against a saved page,
without a live session. Nothing is blocked; the decision is printed.

  gameblocker scan --url https://example.com/ --html page.html`,
	RunE: scanCommand,
}

func init() {
	scanCmd.Flags().StringVar(&scanURL, "url", "", "Page URL (required)")
	scanCmd.Flags().StringVar(&scanHTML, "html", "", "Path to saved page markup")
	scanCmd.Flags().StringVar(&scanText, "text", "", "Visible page text (derived from --html when empty)")
	scanCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(scanCmd)
}

func scanCommand(cmd *cobra.Command, args []string) error {
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
	lists, err := config.NewLoader(config.NewSource(s), log, nil).Load(ctx).Wait(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	resolver := policy.NewResolver(policy.Lists{Allow: lists.Allow, BlockImmediately: lists.BlockImmediately})
	class, domain, err := resolver.ClassifyURL(scanURL)
	if err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}
	fmt.Fprintf(out, "Domain:  %s (%s)\n", domain, class)

	switch class {
	case policy.Immediate:
		fmt.Fprintf(out, "BLOCK    %s\n", policy.ImmediateReason(domain))
		return nil
	case policy.Allowed:
		fmt.Fprintln(out, "ALLOW    domain is on the allow list")
		return nil
	}

	var markup string
	if scanHTML != "" {
		data, err := os.ReadFile(scanHTML)
		if err != nil {
			return fmt.Errorf("failed to read page: %w", err)
		}
		markup = string(data)
	}

	var doc scanner.Document
	if scanText != "" {
		doc = scanner.StaticDocument{Text: scanText, HTML: markup}
	} else {
		doc = scanner.NewHTMLDocument(markup)
	}

	sc := scanner.New(lists.BannedWords, lists.BannedConnections)
	if finding, ok := sc.Scan(doc); ok {
		fmt.Fprintf(out, "BLOCK    %s\n", finding.Reason)
		fmt.Fprintf(out, "         %s: %q\n", finding.Kind, finding.Match)
		return nil
	}
	fmt.Fprintln(out, "PASS     no banned words or connections")
	return nil
}
