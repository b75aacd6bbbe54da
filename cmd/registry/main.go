// Command registry runs the Legion address registry service.
//
// The registry is the authoritative address book the platform operates:
// sale instances resolve the bouncer, signer and fee receiver identities
// from it, and the platform admin rotates them with signed, nonce-ordered
// updates.
//
// # Endpoints
//
// Public:
//   - GET /addresses - Full signed address book
//   - GET /addresses/{name} - One signed address entry
//
// Admin (the update envelope must be signed by the registry admin key):
//   - PUT /addresses/{name} - Set an address
//   - DELETE /addresses/{name} - Remove an address
//
// # Usage
//
//	go run ./cmd/registry --listen-addr=:8080 --admin-pubkey=<hex>
//	go run ./cmd/registry --listen-addr=:8080 --admin-pubkey=<hex> \
//	    --postgres-host=localhost --postgres-db=legion
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Legion-Team/legion-go/api/httpserver"
	"github.com/Legion-Team/legion-go/cmd/common"
	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/registry"
)

func main() {
	var (
		listenAddr  = flag.String("listen-addr", ":8080", "HTTP listen address")
		adminPubKey = flag.String("admin-pubkey", "", "Hex-encoded registry admin public key (required)")
		enablePprof = flag.Bool("pprof", false, "Enable pprof debug endpoints")
		debug       = flag.Bool("debug", false, "Enable debug logging")

		pgHost     = flag.String("postgres-host", "", "Postgres host (empty runs the in-memory store)")
		pgPort     = flag.Int("postgres-port", 5432, "Postgres port")
		pgUser     = flag.String("postgres-user", "legion", "Postgres user")
		pgPassword = flag.String("postgres-password", "", "Postgres password")
		pgDatabase = flag.String("postgres-db", "legion", "Postgres database")
	)
	flag.Parse()

	log := common.NewLogger(*debug)

	admin, err := crypto.NewPublicKeyFromString(*adminPubKey)
	if err != nil || admin.IsZero() {
		log.Error("a valid --admin-pubkey is required", "err", err)
		os.Exit(1)
	}

	var store registry.Store = registry.NewInMemoryStore()
	if *pgHost != "" {
		pgStore, err := registry.NewPostgresStore(&registry.PostgresConfig{
			Host:     *pgHost,
			Port:     *pgPort,
			User:     *pgUser,
			Password: *pgPassword,
			Database: *pgDatabase,
		})
		if err != nil {
			log.Error("connecting to postgres failed", "err", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
	}

	reg, err := registry.New(log, admin, store)
	if err != nil {
		log.Error("initializing registry failed", "err", err)
		os.Exit(1)
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               *listenAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, reg)
	if err != nil {
		log.Error("starting server failed", "err", err)
		os.Exit(1)
	}

	log.Info("registry listening", "addr", *listenAddr, "admin", admin.String())
	srv.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down registry")
	srv.Shutdown()
}
