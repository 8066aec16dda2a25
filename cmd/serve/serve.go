// Package serve implements the serve command, which runs the web server
// until it receives SIGINT or SIGTERM.
package serve

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/digitlab/digitlab/internal/api"
	"github.com/digitlab/digitlab/internal/buildinfo"
	"github.com/digitlab/digitlab/internal/conf"
	"github.com/digitlab/digitlab/internal/imagestore"
	"github.com/digitlab/digitlab/internal/logger"
	"github.com/digitlab/digitlab/internal/ngsild"
	"github.com/digitlab/digitlab/internal/observability"
	"github.com/digitlab/digitlab/internal/telemetry"
)

// startupPingTimeout bounds the broker probe done before serving.
const startupPingTimeout = 5 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long:  "Serve the drawing pages and the JSON API, storing images on disk and entities in the context broker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, build)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().Float64("ratelimit", 0, "Requests per second per client on /api, 0 disables")
	cmd.Flags().Bool("autotls", false, "Obtain certificates from Let's Encrypt")
	cmd.Flags().String("tlshost", "", "Host name to request certificates for")

	for key, name := range map[string]string{
		"server.ratelimit": "ratelimit",
		"server.autotls":   "autotls",
		"server.tlshost":   "tlshost",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}

// Run wires every dependency and serves until ctx is cancelled or a
// termination signal arrives.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	log := logger.Global().Module("main")
	defer func() {
		if err := logger.Global().Flush(); err != nil {
			log.Warn("Failed to flush logs", logger.Error(err))
		}
	}()

	log.Info("Starting digitlab",
		logger.String("version", build.Version()),
		logger.String("build_date", build.BuildDate()))

	if _, err := telemetry.Init(settings.Telemetry, build); err != nil {
		// telemetry is optional, keep serving without it
		log.Warn("Telemetry initialization failed", logger.Error(err))
	}
	defer telemetry.Close(telemetry.DefaultFlushTimeout)

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	userAgent := settings.Broker.UserAgent
	if !strings.Contains(userAgent, "/") {
		userAgent = build.UserAgent(cmp.Or(userAgent, "digitlab"))
	}
	broker, err := ngsild.NewClient(ngsild.Config{
		BaseURL:   settings.Broker.URL,
		Timeout:   settings.Broker.Timeout,
		UserAgent: userAgent,
	}, ngsild.WithLogger(logger.Global().Module("ngsild")), ngsild.WithObserver(metrics.Broker))
	if err != nil {
		return err
	}
	defer broker.Close()

	images, err := imagestore.New(settings.Storage.ImagesDir, settings.Storage.PredictionsDir,
		logger.Global().Module("imagestore"))
	if err != nil {
		return err
	}
	defer func() {
		if err := images.Close(); err != nil {
			log.Warn("Failed to close image store", logger.Error(err))
		}
	}()

	probeBroker(ctx, broker, metrics, log)

	server, err := api.New(settings,
		api.WithLogger(logger.Global().Module("api")),
		api.WithBroker(broker),
		api.WithImageStore(images),
		api.WithMetrics(metrics),
		api.WithBuildInfo(build),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		// the parent context is already cancelled, give shutdown its own
		return server.Shutdown(context.Background())
	})

	return g.Wait()
}

// probeBroker logs whether the broker answers. An unreachable broker is not
// fatal: pages and the health endpoint keep working and flows fail per request.
func probeBroker(ctx context.Context, broker *ngsild.Client, metrics *observability.Metrics, log logger.Logger) {
	ctx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()

	ok, info, err := broker.Ping(ctx)
	metrics.Broker.SetReachable(ok)
	if err != nil {
		log.Warn("Context broker is not reachable",
			logger.String("url", broker.BaseURL()),
			logger.Error(err))
		return
	}

	log.Info("Connected to context broker",
		logger.String("url", broker.BaseURL()),
		logger.Any("version", info))
}
