package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tramsim/driver"
	"tramsim/logging"
	"tramsim/metrics"
	"tramsim/model"
	"tramsim/publish"
	"tramsim/server"
	"tramsim/sim"
)

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	mode := flag.String("mode", "run", "run = one headless simulation, serve = HTTP API")
	configPath := flag.String("config", envOr("TRAMSIM_CONFIG", "configs/tram_config.json"), "route config file (.json or .yaml)")
	seedFlag := flag.String("seed", envOr("TRAMSIM_SEED", ""), "random seed (default: from config)")
	hours := flag.Float64("hours", 0, "override simulation_hours")
	fleet := flag.Int("fleet", 0, "override fleet_size")
	reportDir := flag.String("report_dir", envOr("TRAMSIM_REPORT_DIR", ""), "directory for per-tram CSV logs (empty = none)")
	listen := flag.String("listen", envOr("TRAMSIM_LISTEN_ADDR", ":8080"), "HTTP listen address in serve mode")
	logFile := flag.String("log_file", envOr("TRAMSIM_LOG_FILE", ""), "also append logs to this file")
	logLevel := flag.String("log_level", envOr("TRAMSIM_LOG_LEVEL", "info"), "debug|info|warn|error")
	kafkaBrokers := flag.String("kafka_brokers", envOr("KAFKA_BROKERS", ""), "comma-separated Kafka brokers (empty = disabled)")
	kafkaTopic := flag.String("kafka_topic", envOr("TRAMSIM_KAFKA_TOPIC", "tramsim.events"), "Kafka topic for simulation events")
	mqttBroker := flag.String("mqtt_broker", envOr("MQTT_BROKER", ""), "MQTT broker URL, e.g. tcp://localhost:1883 (empty = disabled)")
	mqttTopic := flag.String("mqtt_topic", envOr("TRAMSIM_MQTT_TOPIC", "tramsim"), "MQTT topic prefix")
	flag.Parse()

	log, closeLog := logging.Init(*logFile, logging.ParseLevel(*logLevel))
	defer closeLog()
	slog.SetDefault(log)

	route, err := model.LoadRouteFile(*configPath)
	if err != nil {
		log.Error("load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	log.Info("route loaded", "name", route.Name, "stops", route.StopCount, "length_km", route.LengthMeters()/1000,
		"capacity", route.TramCapacity, "fleet", route.FleetSize, "hours", route.HorizonHours)

	opt := driver.Options{HorizonHours: *hours, FleetSize: *fleet, ReportDir: *reportDir, Logger: log}
	if *seedFlag != "" {
		v, err := strconv.ParseInt(*seedFlag, 10, 64)
		if err != nil {
			log.Error("invalid seed", "seed", *seedFlag, "err", err)
			os.Exit(2)
		}
		opt.Seed = &v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	opt.Metrics = m

	pub := buildPublishers(splitList(*kafkaBrokers), *kafkaTopic, *mqttBroker, *mqttTopic, log)
	if pub != nil {
		defer pub.Close()
		opt.Publisher = pub
	}

	switch *mode {
	case "run":
		sum, err := driver.Run(ctx, route, opt)
		if err != nil {
			log.Error("simulation failed", "err", err)
			os.Exit(1)
		}
		sim.PrintConsoleReport(os.Stdout, sum.Result)
		if len(sum.ReportFiles) > 0 {
			fmt.Printf("Reports: %s\n", strings.Join(sum.ReportFiles, ", "))
		}
	case "serve":
		srv := server.New(route, server.Options{ReportDir: *reportDir, Publisher: opt.Publisher, Metrics: m, Logger: log})
		httpSrv := &http.Server{Addr: *listen, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
		log.Info("listening", "addr", *listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "err", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}
}

// buildPublishers connects the configured sinks. A sink that cannot be reached
// is logged and skipped so the simulation still runs.
func buildPublishers(brokers []string, topic, mqttBroker, mqttTopic string, log *slog.Logger) publish.Publisher {
	var pubs publish.Multi
	if len(brokers) > 0 {
		pubs = append(pubs, publish.NewKafka(brokers, topic, publish.DefaultRetry, log))
		log.Info("kafka publisher enabled", "brokers", brokers, "topic", topic)
	}
	if mqttBroker != "" {
		clientID := "tramsim-" + uuid.NewString()[:8]
		p, err := publish.DialMQTT(mqttBroker, clientID, mqttTopic, publish.DefaultRetry, log)
		if err != nil {
			log.Warn("mqtt publisher disabled", "broker", mqttBroker, "err", err)
		} else {
			pubs = append(pubs, p)
			log.Info("mqtt publisher enabled", "broker", mqttBroker, "prefix", mqttTopic)
		}
	}
	if len(pubs) == 0 {
		return nil
	}
	return pubs
}
