// Package app wires configuration, logging, storage, the session
// manager, the publisher, and the update router into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postbot/internal/bot"
	"postbot/internal/channel"
	"postbot/internal/config"
	"postbot/internal/notify"
	"postbot/internal/observability/pprof"
	"postbot/internal/post"
	"postbot/internal/publish"
	rtsup "postbot/internal/runtime/supervisor"
	"postbot/internal/session"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	telegram "postbot/internal/transport/telegram/adapter"
	logx "postbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter  kit.Adapter
	store    *post.Store
	channels *channel.Registry
	sessions *session.Manager
	audit    storage.Store
	notif    *notify.Service
	pub      *publish.Publisher
	router   *bot.Router
	prof     *pprof.Service

	flushInterval time.Duration

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies the config immediately. Bootstrap with the
	// moderator sink disabled, set the target, then enable via Apply so
	// the first Apply doesn't warn about a missing target.
	baseLogCfg := mapLoggingConfig(cfg)
	baseLogCfg.Moderator.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if cfg.Telegram.ModeratorID != 0 {
		logSvc.SetModeratorTarget(kit.ChatID(cfg.Telegram.ModeratorID))
	}
	finalLogCfg := mapLoggingConfig(cfg)
	logSvc.Apply(finalLogCfg)

	storeOpts, err := mapStoreOptions(cfg)
	if err != nil {
		return nil, err
	}
	st, err := post.Open(storeOpts, log.With(logx.String("comp", "post.store")))
	if err != nil {
		return nil, err
	}

	channelsPath := cfg.Store.ChannelsPath
	if strings.TrimSpace(channelsPath) == "" {
		channelsPath = "./data/channels.json"
	}
	reg, err := channel.Open(channel.Options{Path: channelsPath},
		log.With(logx.String("comp", "channels")))
	if err != nil {
		return nil, err
	}

	idle, err := config.ParseDurationOrDefault("session.idle_timeout", cfg.Session.IdleTimeout, 2*time.Hour)
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(session.Options{IdleTimeout: idle},
		log.With(logx.String("comp", "sessions")))

	// Audit storage is optional.
	var audit storage.Store
	if sc, enabled, err := mapAuditConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		audit, err = storage.Open(sc, log.With(logx.String("comp", "audit")))
		if err != nil {
			return nil, err
		}
		log.Info("audit enabled", logx.String("driver", sc.Driver))
	}

	notif := notify.New(notify.Config{}, ad, log.With(logx.String("comp", "notify")))

	pubCfg, err := mapPublisherConfig(cfg)
	if err != nil {
		return nil, err
	}
	pub := publish.New(pubCfg, publish.Deps{
		Store:     st,
		Channels:  reg,
		Adapter:   ad,
		Notify:    notif,
		Moderator: kit.ChatID(cfg.Telegram.ModeratorID),
	}, log.With(logx.String("comp", "publish")))

	router := bot.NewRouter(bot.Config{
		ModeratorID: cfg.Telegram.ModeratorID,
		DailyHour:   cfg.Scheduler.DailyHour,
		Timezone:    cfg.Scheduler.Timezone,
	}, bot.Deps{
		Adapter:  ad,
		Store:    st,
		Channels: reg,
		Sessions: sessions,
		Notify:   notif,
		Audit:    audit,
	}, log.With(logx.String("comp", "router")))

	flushInterval, err := config.ParseDurationOrDefault("store.flush_interval", cfg.Store.FlushInterval, 30*time.Second)
	if err != nil {
		return nil, err
	}

	profCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	prof := pprof.New(profCfg, log)

	return &App{
		cfgPath:       cfgPath,
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		adapter:       ad,
		store:         st,
		channels:      reg,
		sessions:      sessions,
		audit:         audit,
		notif:         notif,
		pub:           pub,
		router:        router,
		prof:          prof,
		flushInterval: flushInterval,
		updates:       make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())
	a.pub.Start(a.sup.Context())
	if err := a.prof.Start(a.sup.Context()); err != nil {
		return err
	}

	// The single dispatch goroutine is the serialization point for all
	// session and store mutations.
	a.sup.Go("dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.sup.Go0("store.flush", func(c context.Context) {
		t := time.NewTicker(a.flushInterval)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if err := a.store.Flush(); err != nil {
					a.log.Warn("periodic flush failed", logx.Err(err))
				}
			}
		}
	})

	a.sup.Go0("sessions.sweep", func(c context.Context) {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				for _, s := range a.sessions.SweepIdle() {
					for _, ref := range s.Prompts() {
						dctx, cancel := context.WithTimeout(c, 5*time.Second)
						if err := a.adapter.DeleteMessage(dctx, ref); err != nil {
							a.log.Debug("sweep delete failed",
								logx.String("op", "sweep.delete"), logx.Err(err))
						}
						cancel()
					}
				}
			}
		}
	})

	// Config hot reload: logging is applied live; everything else needs
	// a restart and is logged as such.
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
				if newCfg.Telegram.ModeratorID != 0 {
					a.logs.SetModeratorTarget(kit.ChatID(newCfg.Telegram.ModeratorID))
				} else {
					a.logs.SetModeratorTarget("")
				}
				a.logs.Apply(mapLoggingConfig(newCfg))
				a.log.Info("config reloaded (logging applied; other sections need a restart)")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("pprof", 2*time.Second, func(c context.Context) error { a.prof.Stop(c); return nil })
	step("publisher", 3*time.Second, func(c context.Context) error { a.pub.Stop(c); return nil })
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// The dispatch loop drains its cleanup queue while the supervisor
	// waits here.
	step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("store.flush", 2*time.Second, func(c context.Context) error { return a.store.Flush() })
	step("audit", 1*time.Second, func(c context.Context) error {
		if a.audit != nil {
			return a.audit.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
