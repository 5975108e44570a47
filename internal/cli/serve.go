package cli

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/matzehuels/controlsphere/pkg/config"
	"github.com/matzehuels/controlsphere/pkg/server"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr    string
		watch   bool
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "serve [dataset]",
		Short: "Serve the hierarchy over HTTP",
		Long: `Serve the hierarchy over HTTP with a shared, navigable view.

Clients follow the view over a websocket at /api/events and move it with
POST /api/navigate. Prometheus metrics are exposed at /metrics.

With --watch, edits to the config file retune the layout, regimes and colors
of the running server, and edits to a dataset file reload the hierarchy while
keeping the current focus.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			src, err := sourceArg(args, cfg)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("watch") {
				cfg.Server.Watch = watch
			}
			return c.runServe(cmd.Context(), cfg, src, noCache)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: localhost:8080)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload on config and dataset changes")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")

	return cmd
}

func (c *CLI) runServe(ctx context.Context, cfg *config.Config, src string, noCache bool) error {
	logger := loggerFromContext(ctx).WithPrefix("server")

	runner, err := c.newRunner(ctx, cfg, noCache)
	if err != nil {
		return fmt.Errorf("initialize runner: %w", err)
	}
	defer runner.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	prog := newProgress(logger)
	srv, err := server.New(ctx, runner, server.Options{
		Source:      src,
		RootName:    cfg.Source.RootName,
		Physics:     cfg.Physics.LayoutOptions(),
		DepthWindow: cfg.View.DepthWindow,
		Regimes:     cfg.View.Regimes,
		OnlyMapped:  cfg.View.OnlyMapped,
		Colors:      cfg.Colors,
		Registry:    reg,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()
	srv.Metrics().Register()
	prog.done(fmt.Sprintf("Loaded %d nodes from %s", srv.Tree().Len(), src))

	if cfg.Server.Watch {
		stop, err := c.watch(ctx, srv, cfg, src, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	printSuccess("Serving %s", src)
	printKeyValue("Address", StyleLink.Render("http://"+cfg.Server.Addr))
	printKeyValue("Events", StyleLink.Render("ws://"+cfg.Server.Addr+"/api/events"))
	printKeyValue("Metrics", StyleLink.Render("http://"+cfg.Server.Addr+"/metrics"))
	printNewline()

	return srv.ListenAndServe(ctx, server.ListenOptions{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
}

// watch follows the config file and a local dataset file. The returned
// function stops both watchers.
func (c *CLI) watch(ctx context.Context, srv *server.Server, cfg *config.Config, src string, logger *log.Logger) (func(), error) {
	var stops []func()
	stop := func() {
		for _, s := range stops {
			s()
		}
	}

	if path := c.configFile(); path != "" {
		applier := &configApplier{srv: srv, current: cfg, logger: logger}
		w, err := config.WatchFile(ctx, path, logger, func(next *config.Config) {
			applier.apply(ctx, next)
		})
		if err != nil {
			return nil, fmt.Errorf("watch config: %w", err)
		}
		stops = append(stops, w.Stop)
		logger.Info("watching config", "path", path)
	}

	if !strings.Contains(src, "://") {
		w, err := config.NewWatcher([]string{src}, func([]string) {
			if err := srv.Reload(ctx); err != nil {
				logger.Warn("dataset reload failed", "source", src, "error", err)
				return
			}
			logger.Info("dataset reloaded", "source", src, "nodes", srv.Tree().Len())
		}, config.WatcherOptions{Logger: logger})
		if err != nil {
			stop()
			return nil, fmt.Errorf("watch dataset: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			stop()
			return nil, fmt.Errorf("watch dataset: %w", err)
		}
		stops = append(stops, w.Stop)
		logger.Info("watching dataset", "path", src)
	}

	return stop, nil
}

// configApplier pushes config edits into a running server. Only sections
// that changed are applied; the listen address and cache settings need a
// restart.
type configApplier struct {
	srv     *server.Server
	current *config.Config
	logger  *log.Logger
}

func (a *configApplier) apply(ctx context.Context, next *config.Config) {
	prev := a.current
	a.current = next

	if next.Physics != prev.Physics {
		if err := a.srv.SetPhysics(ctx, next.Physics.LayoutOptions()); err != nil {
			a.logger.Warn("apply physics", "error", err)
		}
	}
	if !next.View.Equal(prev.View) {
		depth, onlyMapped := next.View.DepthWindow, next.View.OnlyMapped
		regimes := next.View.Regimes
		if regimes == nil {
			regimes = []string{}
		}
		err := a.srv.ApplySettings(ctx, server.ViewSettings{
			DepthWindow: &depth,
			Regimes:     regimes,
			OnlyMapped:  &onlyMapped,
		})
		if err != nil {
			a.logger.Warn("apply view", "error", err)
		}
	}
	if !maps.Equal(next.Colors, prev.Colors) {
		if err := a.srv.SetColors(ctx, next.Colors); err != nil {
			a.logger.Warn("apply colors", "error", err)
		}
	}
	if next.Server.Addr != prev.Server.Addr || next.Cache != prev.Cache {
		a.logger.Warn("server and cache settings take effect after a restart")
	}
}
