package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/crystal-arcade/gamestore/pkg/credstore"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	dbPath := flag.String("db", envDefault("CRED_DB", "users.db"), "Path to the account database (env: CRED_DB)")
	host := flag.String("host", envDefault("CRED_HOST", "0.0.0.0"), "Bind address (env: CRED_HOST)")
	port := flag.Int("port", 0, "Listen port, 0 = OS-assigned (env: CRED_PORT)")
	flag.Parse()

	if *port == 0 {
		if v := os.Getenv("CRED_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				*port = p
			}
		}
	}

	store, err := credstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("Error opening account database: %v", err)
	}
	defer store.Close()
	log.Printf("[DB] Accounts: %d developers, %d players",
		store.Count("Developer"), store.Count("Player"))

	srv := credstore.NewServer(store)
	bound, err := srv.Listen(*host, *port)
	if err != nil {
		log.Fatalf("Error binding listener: %v", err)
	}
	log.Printf("[DB] Credential store listening on %s:%d", *host, bound)
	go srv.Serve()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("[DB] Shutting down")
	srv.Shutdown()
}
