package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/TheKidThatCodes/ccbridge/cli/config"
	"github.com/TheKidThatCodes/ccbridge/cli/render"
	"github.com/TheKidThatCodes/ccbridge/cli/tui"
	"github.com/TheKidThatCodes/ccbridge/metrics"
)

// statsFetchTimeout bounds one GET /stats.
const statsFetchTimeout = 10 * time.Second

// StatsCommand returns the stats command.
// It reads the counters of a running `ccbridge serve`.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show counters of a running server",
		Flags: append(OutputFlags(),
			ConfigFlag,
			&cli.StringFlag{
				Name:  "url",
				Usage: "Server base URL (default derived from listen in the config file)",
			},
			&cli.DurationFlag{
				Name:  "refresh",
				Usage: "Refresh interval in TUI mode",
				Value: tui.DefaultRefresh,
			},
		),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	base := c.String("url")
	if base == "" {
		cfg, err := config.LoadOptional(c.String(ConfigFlag.Name))
		if err != nil {
			return err
		}
		listen := cfg.Listen
		if listen == "" {
			listen = DefaultListen
		}
		base = "http://" + listen
	}

	fetch := func() (metrics.Snapshot, error) {
		ctx, cancel := context.WithTimeout(c.Context, statsFetchTimeout)
		defer cancel()
		return fetchStats(ctx, http.DefaultClient, base)
	}
	snap, err := fetch()
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return tui.RunStatsTUI(snap, fetch, c.Duration("refresh"))
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(snap)
}

// fetchStats reads GET <base>/stats.
func fetchStats(ctx context.Context, client *http.Client, base string) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	url := strings.TrimSuffix(base, "/") + "/stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return snap, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return snap, fmt.Errorf("fetch stats: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("fetch stats: %s returned %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode stats: %w", err)
	}
	return snap, nil
}
