package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/liveview/internal/config"
	"github.com/zsiec/liveview/internal/debugapi"
	"github.com/zsiec/liveview/internal/initseg"
	"github.com/zsiec/liveview/internal/mediabuf"
	"github.com/zsiec/liveview/internal/registry"
	"github.com/zsiec/liveview/internal/session"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("LIVEVIEW_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var tlsConfig *tls.Config
	if cfg.InsecureSkipVerify {
		slog.Warn("TLS certificate verification disabled")
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}
	fetcher, err := initseg.NewHTTPFetcher(initseg.HTTPFetcherConfig{
		BaseURL:   cfg.Server,
		HTTP3:     cfg.HTTP3,
		TLSConfig: tlsConfig,
	})
	if err != nil {
		slog.Error("failed to create init segment fetcher", "error", err)
		os.Exit(1)
	}
	defer fetcher.Close()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		slog.Error("failed to create output dir", "dir", cfg.OutputDir, "error", err)
		os.Exit(1)
	}

	a := &app{
		cfg:      cfg,
		registry: registry.New(nil),
		fetcher:  fetcher,
		dialer:   newDialer(tlsConfig),
	}

	slog.Info("liveview starting",
		"version", version,
		"server", cfg.Server,
		"cameras", len(cfg.Cameras),
		"http3", cfg.HTTP3,
		"api", cfg.APIAddr,
	)

	g, ctx := errgroup.WithContext(ctx)

	apiSrv := debugapi.NewServer(cfg.APIAddr, a.registry, nil)
	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	for _, cam := range cfg.Cameras {
		g.Go(func() error {
			a.runCamera(ctx, cam)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.registry.CloseAll()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("liveview error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	registry *registry.Registry
	fetcher  initseg.Fetcher
	dialer   session.Dialer
}

// runCamera records one camera's live view until the session ends or ctx
// is cancelled. A failed session is logged and not restarted.
func (a *app) runCamera(ctx context.Context, cam config.Camera) {
	log := slog.With("camera", cam.Name)

	url, err := a.cfg.LiveURL(cam)
	if err != nil {
		log.Error("bad live URL", "error", err)
		return
	}
	path := a.cfg.OutputPath(cam)
	f, err := os.Create(path)
	if err != nil {
		log.Error("failed to create recording", "path", path, "error", err)
		return
	}
	defer f.Close()

	s := session.New(session.Config{
		Key:     cam.Name,
		Dialer:  a.dialer,
		Source:  mediabuf.NewFileSource(f, a.cfg.Codecs),
		Fetcher: a.fetcher,
	})
	if _, created := a.registry.Create(cam.Name, s); !created {
		s.Close()
		log.Warn("rejecting duplicate camera session")
		return
	}
	defer a.registry.Remove(cam.Name)

	if err := s.Open(ctx, url); err != nil {
		log.Error("failed to open live stream", "url", url, "error", err)
		return
	}
	log.Info("recording live view", "path", path)

	if err := s.Wait(ctx); err != nil && ctx.Err() == nil {
		log.Error("live view ended", "error", err)
		return
	}
	st := s.Stats()
	log.Info("live view stopped", "frames", st.Frames, "bytes", st.Bytes)
}
