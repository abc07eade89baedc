package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vnforms.dev/crawler"
)

var crawlOnce bool

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "fetch configured sources and record new documents",
	Long: `crawl runs the periodic fetch-dedup-upload pipeline (C5): it
fetches every source in CRAWL_SOURCES, uploads genuinely new content to the
object store, and records it in the dedup index. By default it loops on
CRAWL_INTERVAL; pass --once to run a single cycle and exit.`,
	RunE: runCrawl,
}

func init() {
	crawlCmd.Flags().BoolVar(&crawlOnce, "once", false, "run a single crawl cycle and exit")
	RootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger("vnforms-crawler")

	sources := crawlSources()
	if len(sources) == 0 {
		log.Warn("no crawl sources configured, nothing to do")
		return nil
	}

	store, err := newObjectStore(ctx)
	if err != nil {
		return err
	}

	repo, err := newFormRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	events, err := newEventBus(ctx)
	if err != nil {
		log.WithError(err).Warn("event bus unavailable, crawl will run without notifying the worker")
		events = nil
	} else {
		defer events.Close()
	}

	c := crawler.New(crawler.Config{
		Sources: sources,
		Bucket:  viper.GetString("storage.bucket"),
	}, store, repo, events, log)

	runCycleAndLog := func() {
		result := c.RunCycle(ctx)
		log.WithFields(map[string]interface{}{
			"new":     result.New,
			"skipped": result.Skipped,
			"failed":  result.Failed,
		}).Info("crawl cycle complete")
	}

	runCycleAndLog()
	if crawlOnce {
		return nil
	}

	ticker := time.NewTicker(crawlInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runCycleAndLog()
		}
	}
}
