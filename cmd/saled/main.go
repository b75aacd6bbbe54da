// Command saled runs one Legion sale instance behind an HTTP API.
//
// The daemon loads an immutable sale configuration, constructs the
// engine for the configured variant and serves the sale endpoints.
// State-changing requests arrive as signed envelopes; the engine
// enforces the role model, so the daemon itself holds no party keys
// beyond its own custody identity.
//
// # Configuration
//
// The sale configuration is a JSON file matching sale.Config:
//
//	{
//	  "sale_id": "prj-series-a",
//	  "chain_id": "legion-1",
//	  "open_period": 604800000000000,
//	  "refund_period": 259200000000000,
//	  "lockup_period": 2592000000000000,
//	  "platform_fee_capital_bps": 250,
//	  "referrer_fee_capital_bps": 100,
//	  "platform_fee_tokens_bps": 250,
//	  "referrer_fee_tokens_bps": 100,
//	  "minimum_investment": "0x64",
//	  "project_admin": "...",
//	  "platform_bouncer": "...",
//	  "platform_signer": "...",
//	  "platform_fee_receiver": "...",
//	  "referrer_fee_receiver": "...",
//	  "vesting": {"duration": 31536000000000000}
//	}
//
// # Usage
//
//	go run ./cmd/saled --sale-config=sale.json --variant=fixed_price
//	go run ./cmd/saled --sale-config=sale.json --variant=sealed_bid_auction \
//	    --auction-key=<hex> --registry=http://localhost:8080 --registry-admin=<hex>
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
	"github.com/Legion-Team/legion-go/sale"
	"github.com/Legion-Team/legion-go/services"
	"github.com/Legion-Team/legion-go/token"
	"github.com/Legion-Team/legion-go/vesting"
)

func main() {
	var (
		listenAddr    = flag.String("listen-addr", ":8081", "HTTP listen address")
		saleConfig    = flag.String("sale-config", "", "Path to the sale configuration JSON (required)")
		variantName   = flag.String("variant", "fixed_price", "Sale variant: fixed_price, sealed_bid_auction or pre_liquid")
		custodyKey    = flag.String("custody-key", "", "Hex-encoded custody signing key (generated when empty)")
		auctionKey    = flag.String("auction-key", "", "Hex-encoded ECDH auction key (sealed-bid variant)")
		capitalSymbol = flag.String("capital-symbol", "USDC", "Capital token symbol")
		saleSymbol    = flag.String("sale-symbol", "PRJ", "Sale token symbol")
		registryURL   = flag.String("registry", "", "Address registry base URL (optional)")
		registryAdmin = flag.String("registry-admin", "", "Hex-encoded registry admin public key")
		enablePprof   = flag.Bool("pprof", false, "Enable pprof debug endpoints")
		debug         = flag.Bool("debug", false, "Enable debug logging")

		pgHost     = flag.String("postgres-host", "", "Postgres host (empty runs the in-memory journal)")
		pgPort     = flag.Int("postgres-port", 5432, "Postgres port")
		pgUser     = flag.String("postgres-user", "legion", "Postgres user")
		pgPassword = flag.String("postgres-password", "", "Postgres password")
		pgDatabase = flag.String("postgres-db", "legion", "Postgres database")
	)
	flag.Parse()

	log := common.NewLogger(*debug)

	if *saleConfig == "" {
		log.Error("--sale-config is required")
		os.Exit(1)
	}
	cfg, err := common.LoadSaleConfig(*saleConfig)
	if err != nil {
		log.Error("loading sale config failed", "err", err)
		os.Exit(1)
	}

	variant, err := common.VariantByName(*variantName)
	if err != nil {
		log.Error("selecting variant failed", "err", err)
		os.Exit(1)
	}

	if variant.AcceptsSealedBids() {
		key, err := common.LoadOrGenerateAuctionKey(*auctionKey)
		if err != nil {
			log.Error("loading auction key failed", "err", err)
			os.Exit(1)
		}
		cfg.AuctionPubKey = key.PublicKey()
	}

	signingKey, err := common.LoadOrGenerateSigningKey(*custodyKey)
	if err != nil {
		log.Error("loading custody key failed", "err", err)
		os.Exit(1)
	}
	self, err := signingKey.PublicKey()
	if err != nil {
		log.Error("deriving custody identity failed", "err", err)
		os.Exit(1)
	}

	capital := token.NewLedger(*capitalSymbol)
	saleTok := token.NewLedger(*saleSymbol)

	engine, err := sale.New(*cfg, variant, sale.Deps{
		Capital:        capital,
		VestingFactory: &vesting.LocalFactory{Token: saleTok},
		Self:           self,
	})
	if err != nil {
		log.Error("initializing sale failed", "err", err)
		os.Exit(1)
	}

	var store services.Store = services.NewInMemoryStore()
	if *pgHost != "" {
		pgStore, err := services.NewPostgresStore(&services.PostgresConfig{
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

	var lookup sale.AddressLookup
	if *registryURL != "" {
		admin, err := crypto.NewPublicKeyFromString(*registryAdmin)
		if err != nil || admin.IsZero() {
			log.Error("--registry requires a valid --registry-admin key", "err", err)
			os.Exit(1)
		}
		lookup = registry.NewClient(*registryURL, admin)
	}

	svc := services.NewSaleService(log, engine, store, capital, saleTok, lookup)

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               *listenAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, svc)
	if err != nil {
		log.Error("starting server failed", "err", err)
		os.Exit(1)
	}

	log.Info("sale listening",
		"addr", *listenAddr,
		"sale", cfg.SaleID,
		"variant", variant.Name(),
		"custody", self.String(),
	)
	srv.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down sale")
	srv.Shutdown()
}
