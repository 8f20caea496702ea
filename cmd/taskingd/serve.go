package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/config"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/influxdb"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/logging"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/mqtt"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/telemetry"
	"github.com/opensensorhub/osh-addons-sub008/internal/tasking"
)

// shutdownTimeout bounds flushing telemetry on exit.
const shutdownTimeout = 10 * time.Second

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the store and ingest status reports until interrupted",
		Long: `Run the store service.

Opens and migrates the database, connects to the MQTT broker (when enabled),
ingests status reports published on <topic_prefix>/status/+, announces
committed changes on <topic_prefix>/events/..., mirrors status history into
InfluxDB (when enabled) and prunes old reports on the retention schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

// runServe starts every component and blocks until ctx is cancelled.
// Deferred cleanups run in reverse start order.
func runServe(ctx context.Context, rootOpts *rootOptions) error {
	log := logging.Default()
	log.Info("starting taskingd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	tel, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("initialising telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("error shutting down telemetry", "error", shutdownErr)
		}
	}()
	metrics, err := telemetry.NewMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "driver", db.Dialect().String())

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	stores := tasking.NewStores(db, tasking.Options{
		Scope:           cfg.Store.Scope,
		CacheMaxEntries: cfg.Store.StreamCache.MaxEntries,
		CacheTTL:        cfg.CacheTTL(),
		Tracer:          tel.Tracer,
		Metrics:         metrics,
	})
	defer stores.Close() //nolint:errcheck // Only stops the cache janitor
	stores.SetLogger(log.With("component", "tasking"))

	var publishers tasking.Publishers

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		publishers = append(publishers, tasking.NewMQTTPublisher(
			mqttClient, mqttClient.Topics().Event, byte(cfg.MQTT.QoS))) // #nosec G115 -- qos validated to 0..2
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetLogger(log)
		publishers = append(publishers, influxdb.NewPublisher(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if len(publishers) > 0 {
		stores.SetPublisher(publishers)
	}

	// Subscribe only after publishers are wired so ingested reports are announced.
	if mqttClient != nil {
		ingestor := tasking.NewStatusIngestor(stores.Statuses)
		ingestor.SetLogger(log.With("component", "ingest"))
		topic := mqttClient.Topics().AllStatusReports()
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), ingestor.Handle); subErr != nil { // #nosec G115 -- qos validated to 0..2
			return fmt.Errorf("subscribing to status reports: %w", subErr)
		}
		defer func() {
			if unsubErr := mqttClient.Unsubscribe(topic); unsubErr != nil && !errors.Is(unsubErr, mqtt.ErrNotConnected) {
				log.Warn("dropping status report subscription", "error", unsubErr)
			}
		}()
		log.Info("ingesting status reports", "topic", topic)
	}

	if cfg.Retention.Enabled {
		retention, retErr := tasking.NewRetention(stores.Statuses, cfg.Retention.Schedule, cfg.RetentionMaxAge())
		if retErr != nil {
			return fmt.Errorf("configuring retention: %w", retErr)
		}
		retention.SetLogger(log.With("component", "retention"))
		retention.Start(ctx)
		defer retention.Stop()
	} else {
		log.Info("status retention disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := stores.Commit(context.Background()); err != nil {
		log.Error("error committing stores", "error", err)
	}

	log.Info("taskingd stopped")
	return nil
}

func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic_prefix", client.Topics().Prefix,
	)
	return client, nil
}

// healthCheck verifies the enabled infrastructure connections. Nil clients
// belong to disabled integrations and are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
