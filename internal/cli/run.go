package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/watchpost/internal/api"
	"github.com/rcliao/watchpost/internal/logging"
	"github.com/rcliao/watchpost/internal/supervisor"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the recognition service",
		Long: "Start the storage worker, buffer and snapshot maintenance, and the ops HTTP API " +
			"that accepts frames for every configured camera. Stops on SIGINT or SIGTERM.",
		Run: runRun,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")

	RootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) {
	c := getConfig()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		c.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx)
	if err != nil {
		exitErr("start", err)
	}
	defer e.Close()

	tree := supervisor.NewTree(logging.Component("supervisor"), supervisor.DefaultTreeConfig())
	tree.AddStorageService(e.worker)

	cleanupEvery := c.Gait.StaleAfter
	if cleanupEvery <= 0 {
		cleanupEvery = 5 * time.Second
	}
	tree.AddMaintenanceService(supervisor.NewTickerService("gait-buffer-cleanup", cleanupEvery, func(context.Context) {
		e.resolver.CleanupStale(0)
	}))
	tree.AddMaintenanceService(e.cleaner)

	if c.Server.Addr != "" {
		srv := &http.Server{
			Addr: c.Server.Addr,
			Handler: api.NewRouter(api.Deps{
				Pipelines:       e.pipelines,
				Status:          e.status,
				RateLimit:       c.Server.RateLimit,
				RateLimitWindow: c.Server.RateLimitWindow,
				Logger:          logging.Component("api"),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		tree.AddAPIService(supervisor.NewHTTPServerService(srv, c.Server.ShutdownTimeout))
	}

	logging.Info().
		Str("addr", c.Server.Addr).
		Strs("cameras", c.Pipeline.Cameras).
		Str("db", c.Database.Path).
		Msg("watchpost running")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		exitErr("run", err)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("watchpost stopped")
}
