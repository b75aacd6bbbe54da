// Package cmd provides CLI commands for the Legion sale services.
//
// # Commands
//
// saled: Runs one sale instance behind an HTTP API. Loads an immutable
// sale configuration, constructs the engine for the configured variant
// and journals the event stream.
//
//	go run ./cmd/saled --sale-config=sale.json --variant=fixed_price
//	go run ./cmd/saled --sale-config=sale.json --variant=sealed_bid_auction --auction-key=<hex>
//
// registry: Central signed address book. Sale instances resolve the
// platform bouncer, signer and fee receiver from it; the platform admin
// rotates addresses with signed, nonce-ordered updates.
//
//	go run ./cmd/registry --listen-addr=:8080 --admin-pubkey=<hex>
//
// # Persistence
//
// Both commands run an in-memory store by default and switch to
// Postgres when --postgres-host is set:
//
//	go run ./cmd/saled --sale-config=sale.json \
//	    --postgres-host=localhost --postgres-db=legion --postgres-user=legion
//
// # Operational endpoints
//
// Every binary serves /livez, /readyz, /drain and /undrain for load
// balancer integration, plus /debug/pprof when --pprof is set.
package cmd
