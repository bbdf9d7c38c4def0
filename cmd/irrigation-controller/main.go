// Command irrigation-controller drives the pump and zone relays of a
// multi-zone irrigation system from a stored schedule.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/irrigation-controller/internal/config"
	"github.com/sweeney/irrigation-controller/internal/control"
	"github.com/sweeney/irrigation-controller/internal/gpio"
	"github.com/sweeney/irrigation-controller/internal/influx"
	"github.com/sweeney/irrigation-controller/internal/logging"
	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/metrics"
	"github.com/sweeney/irrigation-controller/internal/mqtt"
	"github.com/sweeney/irrigation-controller/internal/sensor"
	"github.com/sweeney/irrigation-controller/internal/status"
	"github.com/sweeney/irrigation-controller/internal/store"
	"github.com/sweeney/irrigation-controller/internal/web"
)

const commandTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML or TOML config file (empty for defaults)")
	printState := flag.Bool("print-state", false, "Print the stored schedule and a current reading, then exit")

	flag.Parse()

	if err := run(*configPath, *printState); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func run(configPath string, printState bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	ctx := context.Background()

	// Schedule: stored copy if there is one, factory defaults otherwise.
	sched := logic.DefaultSchedule(cfg.ZoneCount())
	var (
		db   *store.DB
		repo *store.Repository
	)
	if cfg.Database.Path != "" {
		db, err = store.Open(ctx, store.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		repo = store.NewRepository(db)

		stored, err := repo.Load(ctx, cfg.ZoneCount())
		switch {
		case errors.Is(err, store.ErrNotFound):
			logger.Info().Msg("no stored schedule, saving defaults")
			if err := repo.Save(ctx, sched); err != nil {
				return fmt.Errorf("save default schedule: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load schedule: %w", err)
		default:
			sched = stored
		}
	}

	var reader sensor.Reader
	if cfg.Sensor.Enabled {
		r, err := sensor.NewIIOReader(cfg.Sensor.Device, cfg.Sensor.Channel, sensor.Calibration{
			ZeroVolts:   cfg.Sensor.ZeroVolts,
			VoltsPerAmp: cfg.Sensor.VoltsPerAmp,
		})
		if err != nil {
			return fmt.Errorf("init current sensor: %w", err)
		}
		defer r.Close()
		reader = r
	}

	if printState {
		printSchedule(os.Stdout, sched)
		if reader != nil {
			amps, err := reader.ReadCurrent()
			if err != nil {
				return fmt.Errorf("read current: %w", err)
			}
			fmt.Printf("Pump current: %.2f A\n", amps)
		}
		return nil
	}

	bank, err := gpio.NewRealBank(gpio.Pins{
		Chip:      cfg.Hardware.Chip,
		Pump:      cfg.Hardware.PumpPin,
		Zones:     cfg.Hardware.ZonePins,
		ActiveLow: cfg.Hardware.ActiveLow,
	})
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := bank.Close(); err != nil {
			logger.Error().Err(err).Msg("release gpio")
		}
	}()

	engine := logic.NewEngine(bank, sched)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Status tracker before STARTUP so the snapshot is available.
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.PollInterval().Milliseconds(),
		HeartbeatMs: cfg.Heartbeat().Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Timezone:    loc.String(),
		Zones:       cfg.ZoneCount(),
	}, sched)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	queue := control.NewQueue(cfg.Controller.CommandQueue)

	l := &loop{
		engine:    engine,
		queue:     queue,
		tracker:   tracker,
		reader:    reader,
		metrics:   m,
		heartbeat: cfg.Heartbeat(),
		log:       logging.Component(logger, "loop"),
	}
	if repo != nil {
		l.runLog = repo
	}

	if cfg.MQTT.Enabled {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Username:   cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			QoS:        byte(cfg.MQTT.QoS),
			BufferSize: cfg.MQTT.BufferSize,
			OnCommand:  commandHandler(queue, tracker, m),
			OnConnectionChange: func(connected bool) {
				tracker.SetMQTTConnected(connected)
				m.SetMQTTConnected(connected)
			},
		}, logging.Component(logger, "mqtt"))
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		l.publisher = p
		l.mqttStatus = p
	}

	exp, err := influx.Connect(ctx, influx.Config{
		Enabled:       cfg.InfluxDB.Enabled,
		URL:           cfg.InfluxDB.URL,
		Token:         cfg.InfluxDB.Token,
		Org:           cfg.InfluxDB.Org,
		Bucket:        cfg.InfluxDB.Bucket,
		BatchSize:     cfg.InfluxDB.BatchSize,
		FlushInterval: cfg.FlushInterval(),
	})
	switch {
	case errors.Is(err, influx.ErrDisabled):
	case err != nil:
		// Telemetry export is optional; watering continues without it.
		logger.Warn().Err(err).Msg("influxdb unavailable, export disabled")
	default:
		defer exp.Close()
		influxLog := logging.Component(logger, "influx")
		exp.SetOnError(func(err error) { influxLog.Warn().Err(err).Msg("write failed") })
		l.influx = exp
	}

	l.publishSystem(time.Now(), "STARTUP", "")

	if cfg.HTTP.Addr != "" {
		deps := web.Deps{
			Tracker:   tracker,
			Queue:     queue,
			Metrics:   m,
			Logger:    logging.Component(logger, "http"),
			AccessLog: logging.Component(logger, "access"),
		}
		if repo != nil {
			deps.Saver = repo
			deps.Runs = repo
			deps.Health = db
		}
		srv := web.New(cfg.HTTP.Addr, deps)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("http server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
	}

	logger.Info().
		Dur("poll", cfg.PollInterval()).
		Dur("heartbeat", cfg.Heartbeat()).
		Int("zones", cfg.ZoneCount()).
		Str("timezone", loc.String()).
		Bool("mqtt", cfg.MQTT.Enabled).
		Bool("sensor", cfg.Sensor.Enabled).
		Msg("started")

	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	now := func() time.Time { return time.Now().In(loc) }
	return l.runLoop(now, ticker.C, sigCh)
}

// commandHandler applies MQTT manual commands through the control queue.
func commandHandler(q *control.Queue, tracker *status.Tracker, m *metrics.Metrics) mqtt.CommandHandler {
	return func(payload []byte) error {
		req, err := control.ParseManual(payload)
		if err != nil {
			return err
		}
		snap := tracker.Snapshot()
		name, fn, err := req.Resolve(snap.Schedule.ZoneCount())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		err = q.Submit(ctx, name, fn)
		m.Command(name, err)
		return err
	}
}

func printSchedule(w io.Writer, s logic.Schedule) {
	fmt.Fprintf(w, "Zones: %d\n", s.ZoneCount())
	for z := 0; z < s.ZoneCount(); z++ {
		fmt.Fprintf(w, "  %d. %s\n", z+1, s.ZoneName(z))
	}
	for _, c := range s.Cycles {
		state := "enabled"
		if !c.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "%s (%s): %s on %s, %d min, durations %v, delay %d min\n",
			c.Name, state, c.StartTime, c.DaysActive, c.TotalMinutes(), c.ZoneDurations, c.InterZoneDelayMinutes)
	}
}
