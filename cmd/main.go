package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"gcodesync/internal/api"
	"gcodesync/internal/config"
	fileutil "gcodesync/internal/file"
	"gcodesync/internal/ledger"
	"gcodesync/internal/metrics"
	"gcodesync/internal/remote"
	"gcodesync/internal/state"
	"gcodesync/internal/status"
	"gcodesync/internal/syncer"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yml", "path to YAML or TOML config")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before env overrides")
	once := flag.Bool("once", false, "run a single sync cycle and exit")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatal().Err(err).Msg("failed to load env file")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if err := fileutil.EnsureDir(cfg.DownloadDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DownloadDir).Msg("ensure download dir")
	}

	store := state.NewStore()
	m := metrics.New()
	s, err := buildSyncer(cfg, store, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build syncer")
	}

	log.Info().
		Str("profile", cfg.Profile).
		Str("server", cfg.ServerURL).
		Str("machine_id", cfg.MachineID).
		Str("download_dir", cfg.DownloadDir).
		Dur("interval", cfg.PollInterval.Std()).
		Msg("gcodesync starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		res := s.RunCycle(ctx)
		log.Info().Str("status", string(res.Status)).Int("downloaded", len(res.Downloaded())).Msg("single cycle finished")
		return
	}

	if err := run(ctx, cfg, s, store, m); err != nil {
		stop()
		log.Fatal().Err(err).Msg("exited with error")
	}
	log.Info().Msg("gcodesync exited cleanly")
}

func buildSyncer(cfg config.Config, store *state.Store, m *metrics.Metrics) (*syncer.Syncer, error) {
	client, err := remote.NewClient(cfg.Remote())
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(ledger.Kind(cfg.Ledger), cfg.DownloadDir, cfg.ManifestFile)
	if err != nil {
		return nil, err
	}
	downloader := remote.NewRetrying(client, cfg.RetryAttempts, cfg.RetryBackoff.Std())
	reporter := status.NewFileReporter(cfg.StatusFile)
	return syncer.New(cfg.Syncer(), client, downloader, reporter, l, store, m), nil
}

func run(ctx context.Context, cfg config.Config, s *syncer.Syncer, store *state.Store, m *metrics.Metrics) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Run(gctx) })

	if cfg.StatusAddr != "" {
		srv := newHTTPServer(cfg.StatusAddr, setupRouter(cfg, s, store, m))
		g.Go(func() error {
			log.Info().Str("addr", cfg.StatusAddr).Msg("status server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("status server shutdown warning")
			}
			return nil
		})
	}

	return g.Wait()
}

func setupRouter(cfg config.Config, s *syncer.Syncer, store *state.Store, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger("/metrics", "/api/v1/status"))

	handler := api.NewAPI(store, s, api.Options{DownloadDir: cfg.DownloadDir, Metrics: m.Handler()})
	handler.RegisterRoutes(r)
	handler.RegisterUIRoutes(r)
	return r
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
