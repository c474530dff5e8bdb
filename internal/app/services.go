package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/caselightd/internal/api"
	"github.com/dokzlo13/caselightd/internal/config"
	"github.com/dokzlo13/caselightd/internal/db"
	"github.com/dokzlo13/caselightd/internal/device"
	"github.com/dokzlo13/caselightd/internal/eventbus"
	"github.com/dokzlo13/caselightd/internal/ledger"
	"github.com/dokzlo13/caselightd/internal/metrics"
	"github.com/dokzlo13/caselightd/internal/mqtt"
	"github.com/dokzlo13/caselightd/internal/power"
	"github.com/dokzlo13/caselightd/internal/wmi"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg        *config.Config
	configPath string
	invoker    wmi.Invoker

	// sleepEvents yields logind sleep transitions; replaced in tests.
	sleepEvents func(ctx context.Context) (<-chan bool, error)

	Bus    *eventbus.Bus
	DB     *db.DB
	Ledger *ledger.Ledger
	Device *device.Device
	API    *api.Server
	MQTT   *mqtt.Bridge

	ready    atomic.Bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServices creates the container. Nothing is opened until Start.
func NewServices(cfg *config.Config, configPath string, invoker wmi.Invoker) *Services {
	return &Services{
		cfg:         cfg,
		configPath:  configPath,
		invoker:     invoker,
		sleepEvents: power.Logind,
	}
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.Bus = eventbus.NewWithConfig(s.cfg.EventBus.Workers, s.cfg.EventBus.QueueSize)
	metrics.Subscribe(s.Bus)

	if s.cfg.Ledger.Enabled {
		database, err := db.Open(s.cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
		s.Ledger.Subscribe(s.Bus)

		s.goBackground(func() {
			s.Ledger.RunCleanup(ctx, s.cfg.Ledger.Retention(), s.cfg.Ledger.CleanupInterval.Duration())
		})
		log.Info().Str("path", s.cfg.Ledger.Path).Msg("Dispatch ledger enabled")
	}

	if s.invoker == nil {
		inv, err := wmi.Open(s.cfg.Transport.Options())
		if err != nil {
			return fmt.Errorf("open transport: %w", err)
		}
		s.invoker = inv
	}

	dev, err := device.Attach(ctx, device.Options{
		Invoker:      s.invoker,
		CallTimeout:  s.cfg.Transport.CallTimeout.Duration(),
		RateLimitRPS: s.cfg.Dispatch.RateLimitRPS,
		Bus:          s.Bus,
		Observer:     metrics.Observer{},
	})
	if err != nil {
		// Attach did not take ownership of the invoker.
		s.invoker.Close()
		return err
	}
	s.Device = dev

	ApplyPreset(dev, s.cfg.Light)

	if s.cfg.RestoreOnResume != nil && *s.cfg.RestoreOnResume {
		sleeping, err := s.sleepEvents(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Restore on resume disabled")
		} else {
			s.goBackground(func() { power.Watch(ctx, sleeping, dev) })
		}
	}

	if s.cfg.API.Enabled {
		opts := api.Options{
			Light:   dev,
			Metrics: promhttp.Handler(),
			Ready:   s.ready.Load,
		}
		if s.Ledger != nil {
			opts.Ledger = s.Ledger
		}
		s.API = api.NewServer(opts)
		s.goBackground(func() {
			if err := s.API.Run(ctx, s.cfg.API.Addr(), s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(fmt.Errorf("http server: %w", err))
			}
		})
	}

	if s.cfg.MQTT.Enabled {
		bridge, err := mqtt.NewBridge(dev, mqtt.Config{
			Broker:          s.cfg.MQTT.Broker,
			Username:        s.cfg.MQTT.Username,
			Password:        s.cfg.MQTT.Password,
			TopicPrefix:     s.cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: s.cfg.MQTT.DiscoveryPrefix,
			NodeID:          s.cfg.MQTT.NodeID,
		})
		if err != nil {
			return err
		}
		bridge.Subscribe(s.Bus)
		s.MQTT = bridge
	}

	if s.cfg.WatchConfig && s.configPath != "" {
		w, err := config.NewWatcher(s.configPath, 0, func(c *config.Config) {
			ApplyPreset(dev, c.Light)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config watching disabled")
		} else {
			s.goBackground(func() { w.Run(ctx) })
		}
	}

	s.ready.Store(true)
	notify(daemon.SdNotifyReady)
	return nil
}

// Ready reports whether startup has completed.
func (s *Services) Ready() bool {
	return s.ready.Load()
}

// Stop gracefully stops all services. Safe to call more than once.
func (s *Services) Stop() error {
	var errs []error
	s.stopOnce.Do(func() {
		s.ready.Store(false)
		notify(daemon.SdNotifyStopping)

		if s.MQTT != nil {
			s.MQTT.Stop()
		}

		if s.Device != nil {
			if err := s.detach(); err != nil {
				errs = append(errs, err)
			}
		}

		if s.Bus != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
			s.Bus.Close(ctx)
			cancel()
		}

		// background loops exit on the cancelled app context
		s.wg.Wait()

		if s.DB != nil {
			if err := s.DB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// detach waits at most the drain timeout for queued writes.
func (s *Services) detach() error {
	done := make(chan error, 1)
	go func() { done <- s.Device.Detach() }()

	timeout := s.cfg.Dispatch.DrainTimeout.Duration()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		// Stop only runs on the way out: the process exits with the call
		// still pending in the transport.
		log.Warn().Dur("timeout", timeout).Msg("Firmware call still in flight, not waiting any longer")
		return nil
	}
}

func (s *Services) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to notify systemd")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("Notified systemd")
	}
}
