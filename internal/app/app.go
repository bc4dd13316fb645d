// Package app wires the components together and owns the process
// lifecycle.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"fluxhook/internal/batcher"
	"fluxhook/internal/config"
	"fluxhook/internal/discord"
	"fluxhook/internal/metacache"
	"fluxhook/internal/miniflux"
	"fluxhook/internal/notifier"
	"fluxhook/internal/observability/pprof"
	rtsup "fluxhook/internal/runtime/supervisor"
	"fluxhook/internal/webhook"
	logx "fluxhook/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	meta   *metacache.Metadata
	queue  *notifier.Queue
	server *webhook.Server
	debug  *pprof.Server

	sup     *rtsup.Supervisor
	started time.Time
}

// New loads the configuration and builds every component. Nothing runs
// until Start.
func New(cfgm *config.Manager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(loggingConfig(cfg.Logging))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	client, err := miniflux.NewClient(miniflux.Config{
		BaseURL:     cfg.Miniflux.BaseURL,
		APIKey:      cfg.Miniflux.APIKey,
		Concurrency: cfg.Miniflux.Concurrency,
		Timeout:     config.DurationOr(cfg.Miniflux.Timeout, 30*time.Second),
	}, nil, root.With(logx.String("comp", "miniflux")))
	if err != nil {
		return nil, err
	}
	meta := metacache.NewMetadata(client)

	publicURL := cfg.Miniflux.PublicURL
	if strings.TrimSpace(publicURL) == "" {
		publicURL = cfg.Miniflux.BaseURL
	}
	builder := batcher.New(batcher.Config{
		LinkMode:   cfg.Notification.LinkMode,
		PublicURL:  publicURL,
		Color:      cfg.Notification.Color,
		ConvertICO: cfg.Notification.ConvertICOEnabled(),
	}, meta, root.With(logx.String("comp", "batcher")))

	hook, err := discord.NewWebhook(discord.Config{
		URL:       cfg.Discord.WebhookURL,
		Username:  cfg.Discord.Username,
		AvatarURL: cfg.Discord.AvatarURL,
		Timeout:   config.DurationOr(cfg.Discord.Timeout, 15*time.Second),
	}, nil, root.With(logx.String("comp", "discord")))
	if err != nil {
		return nil, err
	}
	queue := notifier.New(deliveryConfig(cfg.Delivery), hook, root.With(logx.String("comp", "delivery")))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logs,
		meta:  meta,
		queue: queue,
	}
	a.server = webhook.New(webhook.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Path:            cfg.Server.Path,
		Secret:          cfg.Miniflux.WebhookSecret,
		BodyLimit:       cfg.Server.BodyLimit,
		RequestTimeout:  config.DurationOr(cfg.Server.RequestTimeout, webhook.DefaultRequestTimeout),
		ShutdownTimeout: config.DurationOr(cfg.Server.ShutdownTimeout, webhook.DefaultShutdownTimeout),
		AwaitDelivery:   cfg.Server.AwaitDelivery,
	}, builder, queue, a.health, root.With(logx.String("comp", "http")))

	if addr := strings.TrimSpace(cfg.Debug.PprofAddr); addr != "" {
		a.debug = pprof.New(pprof.Config{
			Addr:          addr,
			Prefix:        cfg.Debug.PprofPrefix,
			Token:         cfg.Debug.PprofToken,
			AllowInsecure: cfg.Debug.PprofAllowInsecure,
		}, root.With(logx.String("comp", "pprof")))
		if err := a.debug.Check(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func loggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func deliveryConfig(c config.DeliveryConfig) notifier.Config {
	return notifier.Config{
		QueueSize:   c.QueueSize,
		MinInterval: config.DurationOr(c.MinInterval, 0),
		Strict:      c.Strict,
		SendTimeout: config.DurationOr(c.SendTimeout, notifier.DefaultSendTimeout),
	}
}

// Start launches the delivery worker, the HTTP listener and the config
// watcher. A failure of the listener cancels the app; see Done.
func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// The queue outlives the supervisor context so Stop can drain it after
	// the listener has shut down.
	a.queue.Start(context.WithoutCancel(ctx))

	a.sup.Go("http.server", func(c context.Context) error {
		return a.server.ListenAndServe(c, func(addr net.Addr) {
			a.log.Info("fluxhook ready", logx.String("addr", addr.String()))
			notifyReady(a.log)
		})
	})

	if a.debug != nil {
		a.sup.Go("debug.pprof", a.debug.Serve)
	}

	if a.cfgm.Path() != "" {
		updates := a.cfgm.Subscribe(4)
		a.sup.GoRestart("config.watch", a.cfgm.Watch)
		a.sup.Go("config.apply", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(updates)
			a.applyLoop(c, updates)
			return nil
		})
	}
	return nil
}

// Done is closed when the app stops or fails.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the error that stopped the app, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Stop shuts down the listener first, then drains the delivery queue until
// ctx is done.
func (a *App) Stop(ctx context.Context) error {
	notifyStopping(a.log)
	var err error
	if a.sup != nil {
		a.sup.Cancel()
		if werr := a.sup.Wait(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	}
	a.queue.Stop(ctx)
	a.log.Info("fluxhook stopped")
	_ = a.logs.Close()
	return err
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler { return a.server.Handler() }

func (a *App) health() map[string]any {
	feeds, icons := a.meta.Sizes()
	tasks := append(a.sup.Tasks(), a.queue.Tasks()...)
	return map[string]any{
		"uptime":       time.Since(a.started).Round(time.Second).String(),
		"queue_depth":  a.queue.Depth(),
		"feeds_cached": feeds,
		"icons_cached": icons,
		"tasks":        tasks,
	}
}

// applyLoop applies hot-reloadable settings. Sections that need a restart
// are only reported.
func (a *App) applyLoop(ctx context.Context, updates <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			changed, attrs, restart := config.SummarizeConfigChange(last, next)
			if len(changed) == 0 {
				a.log.Debug("config reload has no effective changes")
				continue
			}
			last = next
			a.log.Info("config changed", append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)

			a.logs.Apply(loggingConfig(next.Logging))
			a.queue.Apply(deliveryConfig(next.Delivery))
			if len(restart) > 0 {
				a.log.Warn("restart required for some changes", logx.String("sections", strings.Join(restart, ",")))
			}
		}
	}
}
