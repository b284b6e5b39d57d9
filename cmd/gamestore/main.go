package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/crystal-arcade/gamestore/pkg/server"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("STORE_CONF", ""), "Path to YAML config file (env: STORE_CONF)")
	dataRoot := flag.String("data", envDefault("STORE_DATA", ""), "Server data root (env: STORE_DATA)")
	host := flag.String("host", envDefault("STORE_HOST", ""), "Bind address for both listeners (env: STORE_HOST)")
	credHost := flag.String("cred-host", envDefault("STORE_CRED_HOST", ""), "Credential store host (env: STORE_CRED_HOST)")
	credPort := flag.Int("cred-port", 0, "Credential store port, overrides the positional argument (env: STORE_CRED_PORT)")
	gameLogDir := flag.String("gamelogs", envDefault("STORE_GAMELOGS", ""), "Directory for game server logs (env: STORE_GAMELOGS)")
	metrics := flag.Bool("metrics", os.Getenv("STORE_METRICS") == "true", "Enable the Prometheus metrics listener (env: STORE_METRICS)")
	metricsPort := flag.Int("metrics-port", 0, "Metrics listener port (env: STORE_METRICS_PORT)")
	flag.Parse()

	// Load config if specified, otherwise use defaults.
	var conf *server.Conf
	if *confFile != "" {
		var err error
		conf, err = server.LoadConf(*confFile)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		log.Printf("Loaded config from %s", *confFile)
	} else {
		conf = server.DefaultConf()
	}

	// Flags override config file values.
	if *dataRoot != "" {
		conf.DataRoot = *dataRoot
	}
	if *host != "" {
		conf.Host = *host
	}
	if *credHost != "" {
		conf.CredHost = *credHost
	}
	if *gameLogDir != "" {
		conf.GameLogDir = *gameLogDir
	}
	if *metrics {
		conf.MetricsEnabled = true
	}
	if *metricsPort != 0 {
		conf.MetricsPort = *metricsPort
	}

	// The credential store port: positional argument first, then flag/env
	// overrides, matching how the bundled launcher invokes the server.
	if args := flag.Args(); len(args) > 0 {
		p, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Usage: gamestore [flags] <credential-store-port>\n")
			os.Exit(1)
		}
		conf.CredPort = p
	}
	if v := os.Getenv("STORE_CRED_PORT"); v != "" && *credPort == 0 {
		if p, err := strconv.Atoi(v); err == nil {
			conf.CredPort = p
		}
	}
	if *credPort != 0 {
		conf.CredPort = *credPort
	}
	if conf.CredPort == 0 {
		fmt.Fprintln(os.Stderr, "Usage: gamestore [flags] <credential-store-port>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Environment variables (used as defaults when flags are not set):")
		fmt.Fprintln(os.Stderr, "  STORE_CONF         Path to YAML config file")
		fmt.Fprintln(os.Stderr, "  STORE_DATA         Server data root")
		fmt.Fprintln(os.Stderr, "  STORE_HOST         Bind address")
		fmt.Fprintln(os.Stderr, "  STORE_CRED_HOST    Credential store host")
		fmt.Fprintln(os.Stderr, "  STORE_CRED_PORT    Credential store port")
		fmt.Fprintln(os.Stderr, "  STORE_GAMELOGS     Directory for game server logs")
		fmt.Fprintln(os.Stderr, "  STORE_METRICS      Set to 'true' to enable metrics")
		fmt.Fprintln(os.Stderr, "  STORE_METRICS_PORT Metrics listener port")
		os.Exit(1)
	}

	srv, err := server.New(conf)
	if err != nil {
		log.Fatalf("Error starting store: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Printf("Game store running (developer port %d, lobby port %d)", srv.DevPort, srv.LobbyPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("Shutting down")
	srv.Shutdown()
}
