// Package app wires the daemon together: config, logging, storage,
// the capture pipeline, the ingest HTTP server, and the retention
// sweep, all under one supervisor with transactional config reload.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"yapefwd/internal/config"
	"yapefwd/internal/dedup"
	"yapefwd/internal/eventbus"
	"yapefwd/internal/ingest"
	"yapefwd/internal/pipeline"
	"yapefwd/internal/runtime/supervisor"
	"yapefwd/internal/sender"
	"yapefwd/internal/storage"
	"yapefwd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log       logx.Logger
	logs      *logx.Service
	bus       eventbus.Bus
	store     *storage.Store
	storePath string

	snd    *sender.Telegram
	window *dedup.Window
	pipe   *pipeline.Pipeline
	ingest *ingest.Service

	cron        *cron.Cron
	cronEntryID cron.EntryID
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	// An empty token means capture-only mode: events are stored with
	// forwarded=false, mirroring a revoked send permission.
	var snd *sender.Telegram
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		sc, err := mapSenderConfig(cfg)
		if err != nil {
			_ = store.Close()
			logSvc.Close()
			return nil, err
		}
		snd, err = sender.NewTelegram(sc, log.With(logx.String("comp", "sender")))
		if err != nil {
			_ = store.Close()
			logSvc.Close()
			return nil, err
		}
	} else {
		log.Warn("telegram token not set; events will be recorded but not forwarded")
	}

	window, err := mapWindow(cfg)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}

	var popts []pipeline.Option
	if len(cfg.Capture.Keywords) > 0 {
		popts = append(popts, pipeline.WithKeywords(cfg.Capture.Keywords))
	}
	var pipeSender sender.Sender
	if snd != nil {
		pipeSender = snd
	}
	pipe := pipeline.New(store, store, window, pipeSender, bus,
		log.With(logx.String("comp", "pipeline")), popts...)

	ingCfg, err := mapIngestConfig(cfg)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	ing := ingest.New(ingCfg, ingest.Deps{Pipeline: pipe, Store: store, Bus: bus},
		log.With(logx.String("comp", "ingest")))

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		storePath: cfg.Storage.Path,
		snd:       snd,
		window:    window,
		pipe:      pipe,
		ingest:    ing,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal
// error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if spec := strings.TrimSpace(cfg.Retention.SweepSchedule); spec != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("retention.sweep_schedule: invalid %q: %w", spec, err)
			}
		}
		if _, err := mapIngestConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSenderConfig(cfg); err != nil {
			return err
		}
		_, _, err := windowBounds(cfg)
		return err
	})

	a.ingest.Start(a.sup.Context())

	if err := a.applyRetention(a.cfgm.Get()); err != nil {
		return err
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

// applyConfig applies one validated config during hot reload. Listen
// address and storage path changes are handled by the components
// themselves (ingest restarts; storage logs restart required).
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))

	if cfg.Storage.Path != a.storePath {
		a.log.Warn("storage.path changed; restart required for changes to take effect")
	}

	if a.snd != nil {
		if sc, err := mapSenderConfig(cfg); err == nil {
			a.snd.Apply(sc)
		}
	}

	if win, max, err := windowBounds(cfg); err == nil {
		a.window.Configure(win, max)
	}
	a.pipe.SetKeywords(cfg.Capture.Keywords)

	if ic, err := mapIngestConfig(cfg); err == nil {
		a.ingest.Reconfigure(ctx, ic)
	}

	if err := a.applyRetention(cfg); err != nil {
		a.log.Warn("retention sweep not applied", logx.Err(err))
	}

	a.log.Info("config reloaded")
}

// applyRetention (re)installs the cron-driven age sweep. An empty
// schedule disables it; the append-time row cap is independent of this.
func (a *App) applyRetention(cfg *config.Config) error {
	spec := strings.TrimSpace(cfg.Retention.SweepSchedule)

	if a.cron != nil {
		a.cron.Remove(a.cronEntryID)
	}
	if spec == "" {
		return nil
	}

	maxAge, err := config.ParseDurationField("retention.max_age", cfg.Retention.MaxAge)
	if err != nil {
		return err
	}
	if maxAge <= 0 {
		return fmt.Errorf("retention.max_age must be positive when a sweep is scheduled")
	}

	if a.cron == nil {
		a.cron = cron.New()
		a.cron.Start()
	}
	id, err := a.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := a.store.DeleteEventsBefore(ctx, time.Now().Add(-maxAge))
		if err != nil {
			a.log.Warn("retention sweep failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("retention sweep", logx.Int64("deleted", n))
			a.bus.Publish(eventbus.Event{Type: eventbus.TopicEventsUpdated})
		}
	})
	if err != nil {
		return err
	}
	a.cronEntryID = id
	a.log.Info("retention sweep scheduled",
		logx.String("schedule", spec), logx.Duration("max_age", maxAge))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	a.ingest.Stop(ctx)
	_ = a.sup.Stop(ctx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func mapSenderConfig(cfg *config.Config) (sender.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return sender.Config{}, err
	}
	rate := cfg.Telegram.RatePerSec
	if rate <= 0 {
		rate = 3
	}
	return sender.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: rate,
		Timeout:    timeout,
	}, nil
}

func mapIngestConfig(cfg *config.Config) (ingest.Config, error) {
	read, err := config.ParseDurationOrDefault("ingest.read_timeout", cfg.Ingest.ReadTimeout, 10*time.Second)
	if err != nil {
		return ingest.Config{}, err
	}
	// Write timeout defaults to 0: the SSE stream is long-lived.
	write, err := config.ParseDurationField("ingest.write_timeout", cfg.Ingest.WriteTimeout)
	if err != nil {
		return ingest.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ingest.idle_timeout", cfg.Ingest.IdleTimeout, 120*time.Second)
	if err != nil {
		return ingest.Config{}, err
	}
	return ingest.Config{
		Addr:          cfg.Ingest.Addr,
		Token:         cfg.Ingest.Token,
		AllowInsecure: cfg.Ingest.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func windowBounds(cfg *config.Config) (time.Duration, int, error) {
	win, err := config.ParseDurationOrDefault("capture.dedup_window", cfg.Capture.DedupWindow, dedup.DefaultWindow)
	if err != nil {
		return 0, 0, err
	}
	max := cfg.Capture.DedupMaxEntries
	if max <= 0 {
		max = dedup.DefaultMaxEntries
	}
	return win, max, nil
}

func mapWindow(cfg *config.Config) (*dedup.Window, error) {
	win, max, err := windowBounds(cfg)
	if err != nil {
		return nil, err
	}
	return dedup.New(win, max), nil
}
