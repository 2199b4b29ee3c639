package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hymnis/dsul-go/internal/app"
	"github.com/hymnis/dsul-go/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", defaultConfigPath(), "Path to configuration file")

	// Overrides, mirroring the configuration file
	comport := flag.String("comport", "", "Serial port to use (overrides config)")
	baudrate := flag.Int("baudrate", 0, "Serial baudrate to use (overrides config)")
	address := flag.String("address", "", "Host address to expose the IPC server on (overrides config)")
	port := flag.Int("port", 0, "Port for the IPC server (overrides config)")
	socket := flag.String("socket", "", "Unix socket path for the IPC server (overrides config, disables host/port)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString("dsuld " + app.Version + "\n")
		return
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	applyOverrides(cfg, *comport, *baudrate, *address, *port, *socket)

	// Setup logging
	setupLogging(cfg.Log.Level, cfg.Log.UseJSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Str("version", app.Version).Msg("Starting dsuld")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	// Start the application
	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.dsul.yaml"
	}
	return "dsul.yaml"
}

func applyOverrides(cfg *config.Config, comport string, baudrate int, address string, port int, socket string) {
	if comport != "" {
		cfg.Serial.Port = comport
	}
	if baudrate > 0 {
		cfg.Serial.Baudrate = baudrate
	}
	if address != "" {
		cfg.IPC.Host = address
	}
	if port > 0 {
		cfg.IPC.Port = port
	}
	if socket != "" {
		cfg.IPC.Socket = socket
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
