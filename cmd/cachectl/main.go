// cachectl is an operational tool for the analysis cache database used by
// the content planning services: inspect entries, purge stale keys, and
// pre-warm the cache from a list of URLs.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tm "github.com/buger/goterm"
	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/contentforge/go-core/batch"
	"github.com/contentforge/go-core/cache"
	"github.com/contentforge/go-core/logger"
)

var (
	dbPath  string
	ttlFlag string
	workers int
)

func openCache(ctx context.Context, log logger.Logger) (*cache.TieredCache, error) {
	slow, err := cache.NewSQLite(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return cache.NewTiered(cache.NewInMemory(ctx), slow, cache.WithLogger(log)), nil
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <key>",
		Short: "Show presence, remaining TTL and hit count for a cache key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			slow, err := cache.NewSQLite(ctx, dbPath)
			if err != nil {
				return err
			}
			defer slow.Close()

			found, entry, err := slow.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("%s: not cached\n", args[0])
				return nil
			}
			fmt.Printf("%s\n  expires in: %s\n  hits:       %d\n",
				args[0], time.Until(entry.ExpiresAt).Round(time.Second), entry.Hits)
			return nil
		},
	}
}

func newPurgeCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "purge [key]",
		Short: "Remove one key, or every entry with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			slow, err := cache.NewSQLite(ctx, dbPath)
			if err != nil {
				return err
			}
			defer slow.Close()

			if all {
				count, err := slow.(cache.Purger).Purge(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("purged %d entries\n", count)
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("purge needs a key or --all")
			}
			found, err := slow.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("%s: not cached\n", args[0])
				return nil
			}
			fmt.Printf("purged %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every entry")
	return cmd
}

type fetchResult struct {
	Status int `msgpack:"status"`
	Bytes  int `msgpack:"bytes"`
}

func newWarmCmd(log logger.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "warm <urls-file>",
		Short: "Fetch each URL (one per line) through the cache with bounded concurrency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ttl, err := str2duration.ParseDuration(ttlFlag)
			if err != nil {
				return fmt.Errorf("invalid --ttl %q: %w", ttlFlag, err)
			}

			urls, err := readLines(args[0])
			if err != nil {
				return err
			}

			tc, err := openCache(ctx, log)
			if err != nil {
				return err
			}
			defer tc.Close()

			items := make([]batch.WorkItem[string], len(urls))
			for i, u := range urls {
				items[i] = batch.WorkItem[string]{ID: u, Payload: u}
			}

			results := batch.Run(ctx, items, func(ctx context.Context, item batch.WorkItem[string]) (fetchResult, error) {
				return cache.Through(ctx, tc, "fetch", map[string]any{"url": item.Payload}, ttl,
					func(ctx context.Context) (fetchResult, error) {
						return fetchURL(ctx, item.Payload)
					})
			}, batch.Options[string, fetchResult]{
				Concurrency: workers,
				Logger:      log,
				OnProgress:  renderProgress,
			})

			tm.Println()
			tm.Flush()

			failures := 0
			for _, res := range results {
				if !res.Success {
					failures++
					fmt.Fprintf(os.Stderr, "failed: %s: %s\n", res.ItemID, res.Err)
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d URLs failed", failures, len(results))
			}
			return nil
		},
	}
}

var progressStarted bool

func renderProgress(p batch.Progress) {
	if progressStarted {
		tm.MoveCursorUp(1)
	}
	progressStarted = true
	width := 30
	filled := width * p.Completed / p.Total
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
	tm.Printf("[%s] %d/%d %s\n", bar, p.Completed, p.Total, p.Label)
	tm.Flush()
}

func fetchURL(ctx context.Context, url string) (fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetchResult{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fetchResult{}, err
	}
	if resp.StatusCode >= 400 {
		return fetchResult{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return fetchResult{Status: resp.StatusCode, Bytes: int(n)}, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func main() {
	log := logger.NewConsoleLogger()

	root := &cobra.Command{
		Use:          "cachectl",
		Short:        "Manage the contentforge analysis cache",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "contentforge-cache.db", "path to the cache database file")
	root.PersistentFlags().StringVar(&ttlFlag, "ttl", "6h", "TTL for newly cached entries (e.g. 90m, 6h, 1d)")
	root.PersistentFlags().IntVar(&workers, "workers", 4, "maximum concurrent fetches for warm")

	root.AddCommand(newInspectCmd(), newPurgeCmd(), newWarmCmd(log))

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Error("%s", err)
		os.Exit(1)
	}
}
