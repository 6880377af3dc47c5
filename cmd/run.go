package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl a site and extract records",
		Long: `Starts crawl and parse workers against the configured site. Every
setting can come from the config file, from SPIDER_* environment variables
(e.g. SPIDER_SITE_BASE_URL), or from the flags below; flags win.`,
		Example: `  sitespider run --base-url https://www.perekrestok.ru/ \
    --start-url 'https://www.perekrestok.ru/promos/post?page=1' \
    --capture /catalog/ --exclude : --timeout 2m --format csv`,
		Args: cobra.NoArgs,
		RunE: runCommand,
	}

	f := cmd.Flags()
	f.String("base-url", "", "site root; only links under it are followed")
	f.String("start-url", "", "first page to crawl (defaults to base-url)")
	f.Int("concurrency", 2, "crawl workers, and separately parse workers")
	f.Duration("timeout", 0, "deadline for the crawl stage")
	f.Duration("delay", 0, "pause after every worker iteration")
	f.Int("max-crawl", 0, "lifetime cap on pages admitted for crawling (0 = unbounded)")
	f.Int("max-parse", 0, "lifetime cap on pages admitted for parsing (0 = unbounded)")
	f.Int("parse-retries", 0, "idle waits a parse worker tolerates before crawling finishes")
	f.String("capture", "", "pattern selecting pages to parse")
	f.String("capture-kind", "", "capture pattern kind: substring or regex")
	f.StringSlice("exclude", nil, "drop links containing any of these substrings")
	f.String("user-agent", "", "User-Agent header")
	f.Bool("respect-robots", false, "obey robots.txt")
	f.String("strategy", "", "extraction strategy: links or selectors")
	f.String("link-selector", "", "CSS selector for the links strategy")
	f.String("format", "", "output format: json or csv")
	f.String("store", "", "output store: local, gcs or memory")
	f.String("output-dir", "", "directory for the local store")
	f.String("bucket", "", "bucket for the gcs store")
	f.String("metrics-addr", "", "serve /metrics on this address during the run")
	f.String("run-id", "", "run identifier (defaults to a UUIDv7)")
	return cmd
}

func runCommand(cmd *cobra.Command, _ []string) error {
	runner, err := resolveRunner(cmd.Context())
	if err != nil {
		return err
	}
	// Cobra skips post-run hooks when RunE fails, so close here.
	defer runner.Close()
	logger := runner.Logger()

	res, err := runner.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run %s: %w", runner.RunID(), err)
	}

	logger.Info("run finished",
		zap.Int("crawled", res.Crawled),
		zap.Int("parsed", res.Parsed),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", res.Elapsed),
		zap.String("output", res.OutputURI),
	)
	fmt.Fprintln(cmd.OutOrStdout(), res.OutputURI)
	return nil
}
