// Command fluxlined runs the Fluxline workflow server: an HTTP API for
// storing workflow definitions, validating them, and executing them.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fluxline/fluxline/flow"
	"github.com/fluxline/fluxline/flow/handler"
	"github.com/fluxline/fluxline/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults used when empty)")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fluxlined: %v\n", err)
		os.Exit(1)
	}

	registry := flow.NewRegistry()
	handler.RegisterBuiltins(registry)
	handler.RegisterHTTP(registry, handler.NewMemCredentials())

	srv, err := server.NewServer(cfg, registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fluxlined: %v\n", err)
		os.Exit(1)
	}

	log.Printf("fluxlined listening on %s (store=%s)", cfg.Addr, cfg.Store.Driver)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("fluxlined: %v", err)
	}
}
