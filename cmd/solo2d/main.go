package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"codeberg.org/mutker/solo2d/internal/config"
	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/exporter"
	"codeberg.org/mutker/solo2d/internal/history"
	"codeberg.org/mutker/solo2d/internal/homeassistant"
	"codeberg.org/mutker/solo2d/internal/logger"
	"codeberg.org/mutker/solo2d/internal/pid"
	"codeberg.org/mutker/solo2d/internal/poller"
	"codeberg.org/mutker/solo2d/internal/record"
	"codeberg.org/mutker/solo2d/internal/sensor"
	"codeberg.org/mutker/solo2d/internal/server"
	"codeberg.org/mutker/solo2d/internal/store"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/pflag"
)

const (
	shutdownTimeout = 10 * time.Second
	historyTimeout  = 5 * time.Second
)

type app struct {
	cfg     *config.Config
	log     logger.Logger
	store   *store.Store
	cache   *poller.Cache
	sensors []sensor.Sensor

	history  history.Collector
	exporter *exporter.Exporter
	mqtt     *homeassistant.Client
	server   *server.Server
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		logger.Warn().Err(err).Msg("Invalid log level, using info")
	}
	logger.Debug().Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Dump > 0 {
		if err := dump(ctx, os.Stdout, newStore(cfg, logger.Default()), cfg.Dump, time.Now()); err != nil {
			logger.Error().Err(err).Msg("Failed to dump records")
			os.Exit(1)
		}
		return
	}

	if err := pid.Write(cfg.RuntimeDir); err != nil {
		logger.Fatal().Err(err).Msg("Failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(cfg.RuntimeDir); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	a, err := newApp(cfg, logger.Default())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize")
		return
	}
	defer a.shutdown()

	go handleSignals(cancel)

	if err := a.loop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error in main loop")
	}
}

func newStore(cfg *config.Config, log logger.Logger) *store.Store {
	var medium store.Medium
	if cfg.Mount {
		medium = store.NewMountMedium(cfg.MountPoint, cfg.DataFile, cfg.MountTimeoutDuration(), log)
	} else {
		medium = &store.FileMedium{Path: filepath.Join(cfg.MountPoint, cfg.DataFile)}
	}

	return store.New(medium,
		store.WithEpoch(record.NewEpoch(cfg.Location())),
		store.WithLogger(log),
	)
}

func newApp(cfg *config.Config, log logger.Logger) (*app, error) {
	errFactory := errors.New()

	sensors, err := cfg.SensorList()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		store:    newStore(cfg, log),
		sensors:  sensors,
		exporter: exporter.New(),
	}
	a.cache = poller.New(a.store, poller.WithLocation(cfg.Location()), poller.WithLogger(log))

	for _, s := range sensors {
		if err := a.cache.Track(s.Count); err != nil {
			return nil, errFactory.Wrap(errors.ErrInitApp, err)
		}
	}
	a.cache.OnRefresh(a.exporter.OnRefresh)

	histCfg := history.DefaultConfig()
	histCfg.Enabled = cfg.History
	histCfg.DBPath = cfg.HistoryDB
	if a.history, err = history.NewService(histCfg, log); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}
	a.cache.OnRefresh(a.recordHistory)

	if cfg.MQTT.Enabled() {
		if err := a.connectMQTT(); err != nil {
			a.shutdown()
			return nil, errFactory.Wrap(errors.ErrInitApp, err)
		}
		a.cache.OnRefresh(a.mqtt.OnRefresh)
	}

	if cfg.HTTPListen != "" {
		a.server = server.New(cfg.HTTPListen, a.cache,
			server.WithMetrics(a.exporter.Handler()),
			server.WithHistory(a.history),
			server.WithLogger(log),
		)
		if err := a.server.Start(); err != nil {
			a.shutdown()
			return nil, errFactory.Wrap(errors.ErrInitApp, err)
		}
	}

	log.Info().
		Ints("windows", a.cache.Windows()).
		Bool("mqtt", cfg.MQTT.Enabled()).
		Bool("history", cfg.History).
		Str("http", cfg.HTTPListen).
		Msg("Initialized")

	return a, nil
}

func (a *app) connectMQTT() error {
	hc := homeassistant.Config{
		Broker:          a.cfg.MQTT.Broker,
		ClientID:        a.cfg.MQTT.ClientID,
		Username:        a.cfg.MQTT.Username,
		Password:        a.cfg.MQTT.Password,
		TopicPrefix:     a.cfg.MQTT.TopicPrefix,
		DiscoveryPrefix: a.cfg.MQTT.DiscoveryPrefix,
		MountPoint:      a.cfg.MountPoint,
	}
	if hc.ClientID == "" {
		host, _ := os.Hostname()
		hc.ClientID = "solo2d-" + host
	}

	opts := hc.ClientOptions(a.log)
	connected := false
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if !connected {
			connected = true
			return
		}
		go func() {
			if err := a.mqtt.MarkOnline(); err != nil {
				a.log.Warn().Err(err).Msg("Failed to publish online state")
			}
		}()
	})

	a.mqtt = homeassistant.NewClient(mqtt.NewClient(opts), hc, a.sensors, a.log)
	if err := a.mqtt.Connect(); err != nil {
		a.mqtt = nil
		return err
	}

	return a.mqtt.RegisterSensors()
}

func (a *app) recordHistory(res poller.Result) {
	snapshot := toSnapshot(res)
	if snapshot == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	if err := a.history.Record(ctx, snapshot); err != nil {
		a.log.Warn().Err(err).Msg("Failed to record history")
	}
}

// toSnapshot converts a successful refresh into history entries, one per
// window that had data.
func toSnapshot(res poller.Result) *history.Snapshot {
	if res.Err != nil || len(res.Records) == 0 {
		return nil
	}

	snapshot := &history.Snapshot{At: res.At}
	for window, r := range res.Records {
		snapshot.Entries = append(snapshot.Entries, history.Entry{
			At:      res.At,
			Window:  window,
			Present: res.Coverage[window].Present,
			Record:  r,
		})
	}

	return snapshot
}

func (a *app) loop(ctx context.Context) error {
	if a.cfg.Interval <= 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, a.cfg.Interval)
	}

	ticker := time.NewTicker(a.cfg.IntervalDuration())
	defer ticker.Stop()

	// The first refresh ignores the slot boundary so sensors have values
	// right after startup.
	if err := a.cache.Refresh(ctx, time.Now()); err != nil {
		a.log.Warn().Err(err).Msg("Initial refresh failed")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := a.cache.Poll(ctx, now); err != nil {
				a.log.Debug().Err(err).Msg("Poll failed")
			}
		}
	}
}

func (a *app) shutdown() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Failed to stop HTTP server")
		}
		cancel()
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close history")
		}
	}
	a.log.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
