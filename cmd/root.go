package cmd

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"my/fronius_publisher/internal/config"
	"my/fronius_publisher/internal/fronius"
	"my/fronius_publisher/internal/logging"
	"my/fronius_publisher/internal/metrics"
	"my/fronius_publisher/internal/poller"
	"my/fronius_publisher/internal/publisher"
)

var rootCmd = &cobra.Command{
	Use:   "fronius_publisher",
	Short: "Publish Fronius inverter telemetry to a message broker",
	Long: `Poll a Fronius Data Manager every interval and publish one normalized
power, voltage and frequency record to an MQTT (or Kafka) topic.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runPoller,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runPoller(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(logOutput(cfg.Broker), cfg.Logging.Level, cfg.Logging.Format)
	logConfig(logger, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := newPoller(cfg, logger, os.Stdout, poller.WithMetrics(metrics.New(reg)))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.Run(ctx)
	})

	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.Metrics.Address, reg, logger)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Collector stopped with error")
		return err
	}

	logger.Info().Msg("Collector shut down")

	return nil
}

func newPoller(cfg config.Config, logger zerolog.Logger, out io.Writer, opts ...poller.Option) (*poller.Poller, error) {
	client := fronius.NewClient(fronius.NewSource(cfg.Device.Address), cfg.Device.Timeout, logger)

	brokerOpts := brokerOptions(cfg.Broker)
	brokerOpts.Out = out

	pub, err := publisher.New(brokerOpts, logger)
	if err != nil {
		return nil, err
	}

	opts = append(opts, poller.WithPublishPartial(cfg.Poller.PublishPartial))

	return poller.New(client, pub, cfg.Poller.Interval, logger, opts...), nil
}

// logOutput keeps stdout free for records when they are published there.
func logOutput(b config.BrokerConfig) io.Writer {
	if b.Type == publisher.TypeStdout {
		return os.Stderr
	}

	return os.Stdout
}

func brokerOptions(b config.BrokerConfig) publisher.Options {
	return publisher.Options{
		Type:           b.Type,
		Address:        b.Address,
		Port:           b.Port,
		Topic:          b.Topic,
		ClientID:       b.ClientID,
		ConnectTimeout: b.ConnectTimeout,
	}
}

func logConfig(logger zerolog.Logger, cfg config.Config) {
	logger.Info().
		Str("device", cfg.Device.Address).
		Str("broker_type", cfg.Broker.Type).
		Str("broker", brokerOptions(cfg.Broker).HostPort()).
		Str("topic", cfg.Broker.Topic).
		Dur("interval", cfg.Poller.Interval).
		Msg("Configuration loaded")
}
