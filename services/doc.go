/*
# Legion Sale Services Package

The services package exposes the sale engine over HTTP for real-world
deployment, and owns persistence of the engine's event stream.

## Overview

This package wraps the core sale engine with an HTTP API, enabling:
- Signed RESTful operation submission by investors and admins
- Durable event journaling (Postgres or in-memory)
- Read endpoints for indexers and dashboards

## Components

### SaleService

`SaleService` (`sale_service.go`) wraps one `sale.Sale` instance.

Every state-changing endpoint accepts a `wire.Signed` envelope; the
recovered signer is the caller identity handed to the engine, which
enforces roles itself. The service never holds keys.

Public endpoints:
  - `POST /invest` - Invest capital under a platform attestation
  - `POST /bids` - Place a sealed bid (auction variant)
  - `POST /refund` - Refund within the refund window
  - `POST /claim` - Settle a token allocation (proof or attestation)
  - `POST /claim-excess` - Withdraw non-accepted capital
  - `POST /release` - Release vested tokens
  - `POST /transfer` - Transfer a position
  - `POST /withdraw-canceled` - Recover capital after cancellation
  - `GET /config`, `GET /status`, `GET /phase`
  - `GET /positions/{investor}`
  - `GET /events?after=N` - Ordered event stream
  - `GET /bids`, `GET /bids/{idx}` - Sealed bids and post-reveal audit

Admin endpoints (role-checked by the engine, not the router):
  - `POST /admin/end`, `/admin/publish-raised`, `/admin/publish-results`
  - `POST /admin/set-accepted`, `/admin/supply-tokens`, `/admin/withdraw-raised`
  - `POST /admin/cancel`, `/admin/cancel-expired`
  - `POST /admin/pause`, `/admin/unpause`, `/admin/emergency-withdraw`
  - `POST /admin/publish-bid-key`, `/admin/sync-addresses`

### Event Store

`Store` (`store.go`) journals the engine's event stream. Two
implementations: `PostgresStore` for deployment and `InMemoryStore` for
tests. Appends are idempotent per (sale, sequence) so replays after a
partial write are safe.

## Error Mapping

The engine's error taxonomy maps onto HTTP statuses:

  - authorization / access errors: 403
  - phase errors: 409
  - amount / config errors: 400
  - anything else: 500

## Usage

	engine, err := sale.New(cfg, &sale.FixedPrice{}, deps)
	svc := services.NewSaleService(log, engine, store, capital, saleToken, lookup)

	router := chi.NewRouter()
	svc.RegisterRoutes(router)
	http.ListenAndServe(addr, router)
*/
package services
