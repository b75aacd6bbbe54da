/*
Package testutil provides testing utilities for the Legion sale engine.

This package contains test data generators and fixtures designed to
simplify writing tests for sale components. It supports unit testing and
integration testing of the full settlement flow by providing consistent,
customizable test fixtures.

# Key Components

## Configuration Generators

Functions for creating customizable sale.Config instances:

	// Generate the platform and project identities once
	parties := testutil.GenerateTestParties()

	// Create default test config
	config := testutil.NewTestConfig(parties)

	// Create custom config with specific options
	customConfig := testutil.NewTestConfig(parties,
	    testutil.WithOpenPeriod(2*time.Hour),
	    testutil.WithCapitalFees(500, 0),
	    testutil.WithMinimumInvestment(1000),
	)

## Cryptographic Generators

Utilities for generating keys and signed attestations:

	// Generate key pairs
	pubKey, privKey, _ := testutil.GenerateTestKeyPair()

	// Sign an investment attestation for an investor
	att := testutil.SignTestAttestation(
	    parties.PlatformSignerKey, config, investor, sale.ActionInvest,
	    testutil.WithCeiling(50_000),
	)

## Clock

ManualClock is a hand-advanced time source. Inject it into a sale and
advance it past the recorded boundaries to drive phase transitions
deterministically:

	clock := testutil.NewManualClock(time.Now())
	clock.Advance(config.OpenPeriod + config.RefundPeriod)

## Distribution Helpers

BuildTestDistribution mirrors the off-chain backend: it commits a set of
per-investor allocations to a merkle root and returns the proof each
investor would submit with a claim.

This package is intended for testing purposes only and should not be
used in production code.
*/
package testutil
