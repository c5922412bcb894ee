package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/furdarius/brokerwatch"
	"github.com/furdarius/brokerwatch/amqpbroker"
	"github.com/furdarius/brokerwatch/internal/config"
	bwlog "github.com/furdarius/brokerwatch/internal/log"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	// ErrTermSig used to notify that termination signal received.
	ErrTermSig = errors.New("termination signal caught")
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	log := bwlog.New(bwlog.Config{})

	if *configPath == "" {
		log.Fatal().Msg("-config is required")
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log = bwlog.New(bwlog.Config{Level: cfg.Log.Level, Service: cfg.Log.Service})

	err = run(cfg, log)
	if err != nil && err != ErrTermSig {
		log.Fatal().Err(err).Msg("failed to wait goroutine group")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	primary := brokerwatch.NewMonitor(
		cfg.MonitorConfig("primary"),
		amqpbroker.NewProber(cfg.Primary.AMQP()),
		brokerwatch.WithMonitorLogger(bwlog.WithComponent(log, "monitor")),
	)
	defer primary.Close()

	conn := amqpbroker.NewConnector(
		cfg.Primary.AMQP(),
		amqpbroker.WithName("primary"),
		amqpbroker.WithLogger(bwlog.WithComponent(log, "connector")),
		amqpbroker.WithHooks(amqpbroker.Hooks{
			OnRetried: func(r amqpbroker.Retried) {
				log.Warn().Str("broker", r.Broker).Int("attempt", r.Attempt).Err(r.Err).Msg("try to connect to RabbitMQ")
			},
			OnDialed: func(d amqpbroker.Dialed) {
				log.Info().Str("broker", d.Broker).Bool("redial", d.Redial).Msg("RabbitMQ connection successfully established")
			},
			OnLost: func(e amqpbroker.ConnectionLost) {
				log.Error().Str("broker", e.Broker).Err(e.Err).Msg("RabbitMQ connection lost")
				primary.ConnectionClosed()
			},
			OnRestored: func(r amqpbroker.Restored) {
				log.Info().Str("broker", r.Broker).Int("sessions", r.Sessions).Int("failed", r.Failed).Msg("RabbitMQ sessions restored")
			},
		}),
	)

	source := brokerwatch.NewEventSource(
		conn,
		brokerwatch.WithEventSourceLogger(bwlog.WithComponent(log, "eventsource")),
		brokerwatch.WithQueuePrefix(cfg.Events.QueuePrefix),
	)
	defer source.ShutDown()

	source.Bind(primary)

	for _, l := range cfg.Events.Listeners {
		source.RegisterListener(NewLogListener(l.Name, l.RequiresSecondary, log))
	}

	var (
		secondary *brokerwatch.Monitor
		others    []statusReporter
	)

	if cfg.Secondary.Enabled {
		secondary = brokerwatch.NewMonitor(
			cfg.MonitorConfig("secondary"),
			amqpbroker.NewProber(cfg.Secondary.AMQP()),
			brokerwatch.WithMonitorLogger(bwlog.WithComponent(log, "monitor")),
		)
		defer secondary.Close()

		secondary.RegisterListener(source.SecondaryListener())
		others = append(others, secondary)
	}

	g, ctx := errgroup.WithContext(context.Background())

	primary.Initialize(ctx)

	if secondary != nil {
		secondary.Initialize(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(primary, others, source),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server starting")
		defer log.Info().Msg("http server finished")

		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "failed to serve http")
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		log.Info().Msg("signal trap starting")
		defer log.Info().Msg("signal trap finished")

		return TermSignalTrap(ctx)
	})

	return g.Wait()
}

// TermSignalTrap used to catch termination signal from OS
// and return error to golang.org/x/sync/errgroup
func TermSignalTrap(ctx context.Context) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case <-sigc:
		return ErrTermSig
	case <-ctx.Done():
		return ctx.Err()
	}
}
