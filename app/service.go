// Package app wires the booking resolver, the admission scheduler and their
// infrastructure into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/kilianp07/chargeslot/api"
	"github.com/kilianp07/chargeslot/config"
	"github.com/kilianp07/chargeslot/core/admission"
	"github.com/kilianp07/chargeslot/core/booking"
	"github.com/kilianp07/chargeslot/core/directory"
	coremetrics "github.com/kilianp07/chargeslot/core/metrics"
	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/monitoring"
	"github.com/kilianp07/chargeslot/core/store"
	infradir "github.com/kilianp07/chargeslot/infra/directory"
	"github.com/kilianp07/chargeslot/infra/logger"
	"github.com/kilianp07/chargeslot/infra/metrics"
	infmon "github.com/kilianp07/chargeslot/infra/monitoring"
	"github.com/kilianp07/chargeslot/infra/mqtt"
	"github.com/kilianp07/chargeslot/internal/eventbus"

	// storage backends register themselves
	_ "github.com/kilianp07/chargeslot/infra/store/memory"
	_ "github.com/kilianp07/chargeslot/infra/store/redis"
	_ "github.com/kilianp07/chargeslot/infra/store/sql"
)

// Service holds the running components.
type Service struct {
	Directory directory.Directory
	Store     store.Backend
	Resolver  *booking.Resolver
	Scheduler *admission.Scheduler
	Router    http.Handler

	cfg      *config.Config
	bus      *eventbus.Bus[model.QueueEvent]
	sink     coremetrics.Sink
	notifier mqtt.Notifier
	logFile  io.Closer
	log      logger.Logger

	closeOnce sync.Once
}

// New creates a Service from the configuration. Whatever was opened before
// a failing step is released again.
func New(cfg *config.Config) (*Service, error) {
	var undo []func()
	fail := func(err error) (*Service, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return nil, err
	}

	logFile, err := configureLogging(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	if logFile != nil {
		undo = append(undo, func() {
			logger.Configure(logger.Options{Output: os.Stdout})
			_ = logFile.Close()
		})
	}
	logg := logger.New("service")

	monitor, err := infmon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return fail(fmt.Errorf("sentry: %w", err))
	}
	monitoring.Init(monitor)
	undo = append(undo, func() { monitoring.Init(nil) })

	dir, admin, err := openDirectory(cfg.Directory)
	if err != nil {
		return fail(fmt.Errorf("directory: %w", err))
	}
	backend, err := store.Open(cfg.Store)
	if err != nil {
		return fail(fmt.Errorf("store: %w", err))
	}
	undo = append(undo, func() { _ = backend.Close() })

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return fail(fmt.Errorf("metrics sink: %w", err))
	}
	undo = append(undo, func() { closeSink(sink) })

	var notifier mqtt.Notifier = mqtt.NopNotifier{}
	if cfg.MQTT.Enabled {
		n, err := mqtt.NewPahoNotifier(cfg.MQTT)
		if err != nil {
			return fail(fmt.Errorf("mqtt notifier: %w", err))
		}
		notifier = n
		undo = append(undo, n.Close)
	}

	bus := eventbus.New[model.QueueEvent]()
	undo = append(undo, bus.Close)
	resolver := booking.NewResolver(dir, backend, nil, sink, logger.New("booking"))

	var opts []admission.Option
	if rec, ok := sink.(coremetrics.CleanupRecorder); ok {
		opts = append(opts, admission.WithCleanupRecorder(rec))
	}
	sched, err := admission.New(cfg.Admission, dir, backend, bus, logger.New("admission"), opts...)
	if err != nil {
		return fail(fmt.Errorf("admission scheduler: %w", err))
	}

	router := api.NewRouter(api.Deps{
		Booking:    resolver,
		Queue:      sched,
		Admin:      admin,
		Auth:       api.HeaderAuthenticator{Directory: dir},
		AdminToken: cfg.API.AdminToken,
	})

	logg.Infof("service configured: store=%s sinks=%d mqtt=%t", cfg.Store.Backend.Type, len(cfg.Metrics.Sinks), cfg.MQTT.Enabled)
	return &Service{
		Directory: dir,
		Store:     backend,
		Resolver:  resolver,
		Scheduler: sched,
		Router:    router,
		cfg:       cfg,
		bus:       bus,
		sink:      sink,
		notifier:  notifier,
		logFile:   logFile,
		log:       logg,
	}, nil
}

func closeSink(sink coremetrics.Sink) {
	if c, ok := sink.(interface{ Close() }); ok {
		c.Close()
	}
}

// configureLogging applies the logging section. The returned closer is the
// rotating log file, nil when logging to stdout only.
func configureLogging(c config.LoggingConfig) (io.Closer, error) {
	opts := logger.Options{Backend: c.Backend, Level: c.Level}
	var file io.WriteCloser
	if c.File != "" {
		f, err := logger.RotatingFile(c.File, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
		if err != nil {
			return nil, err
		}
		file = f
		opts.Output = io.MultiWriter(os.Stdout, f)
	}
	logger.Configure(opts)
	if file == nil {
		return nil, nil
	}
	return file, nil
}

// openDirectory returns the remote directory when configured and the seeded
// in-memory one otherwise. Only the in-memory directory can approve stations.
func openDirectory(cfg directory.Config) (directory.Directory, api.StationAdmin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Remote.URL != "" {
		d, err := infradir.NewHTTPDirectory(cfg.Remote)
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	}
	d, err := directory.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return d, d, nil
}

// Run recovers the queues, starts the listeners and serves the API until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	collected := metrics.StartEventCollector(ctx, s.bus, s.sink)
	notified := mqtt.StartNotifier(ctx, s.bus, s.notifier)

	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if s.cfg.Metrics.PrometheusAddr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	if err := api.Serve(ctx, s.cfg.API.Addr, s.Router); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	<-collected
	<-notified
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		errs = append(errs, s.Scheduler.Close())
		s.bus.Close()
		s.notifier.Close()
		closeSink(s.sink)
		errs = append(errs, s.Store.Close())
		monitoring.Flush(2 * time.Second)
		if s.logFile != nil {
			logger.Configure(logger.Options{Output: os.Stdout})
			errs = append(errs, s.logFile.Close())
		}
	})
	return errors.Join(errs...)
}
