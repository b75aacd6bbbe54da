package vesting

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/token"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fundedSchedule(t *testing.T, params Params, total uint64) (*Schedule, *token.Ledger) {
	t.Helper()

	ledger := token.NewLedger("PROJ")
	beneficiary, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	factory := &LocalFactory{Token: ledger}
	sched, err := factory.Create(beneficiary, params)
	require.NoError(t, err)

	require.NoError(t, ledger.Mint(sched.Custody(), uint256.NewInt(total)))
	require.NoError(t, sched.Fund(uint256.NewInt(total)))
	return sched, ledger
}

func TestLinear_NothingBeforeCliff(t *testing.T) {
	sched, _ := fundedSchedule(t, Params{
		Start:    epoch,
		Duration: 100 * 24 * time.Hour,
		Cliff:    30 * 24 * time.Hour,
	}, 10_000)

	// Half the duration has elapsed proportionally but the cliff gates it
	assert.True(t, sched.Releasable(epoch.Add(29*24*time.Hour)).IsZero())

	_, err := sched.Release(epoch.Add(29 * 24 * time.Hour))
	assert.ErrorIs(t, err, ErrNothingReleasable)
}

func TestLinear_ProportionalRelease(t *testing.T) {
	sched, ledger := fundedSchedule(t, Params{
		Start:    epoch,
		Duration: 100 * 24 * time.Hour,
		Cliff:    10 * 24 * time.Hour,
	}, 10_000)

	// At 25% of the duration, 2,500 has vested
	at := epoch.Add(25 * 24 * time.Hour)
	assert.Equal(t, uint256.NewInt(2_500), sched.Releasable(at))

	released, err := sched.Release(at)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(2_500), released)
	assert.Equal(t, uint256.NewInt(2_500), ledger.BalanceOf(sched.Beneficiary()))

	// Re-release at the same instant yields nothing
	assert.True(t, sched.Releasable(at).IsZero())

	// Past the end the remainder is releasable
	released, err = sched.Release(epoch.Add(200 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(7_500), released)
	assert.Equal(t, uint256.NewInt(10_000), ledger.BalanceOf(sched.Beneficiary()))
}

func TestEpoch_StepsAndCliff(t *testing.T) {
	sched, _ := fundedSchedule(t, Params{
		Start:       epoch,
		Duration:    10 * 30 * 24 * time.Hour,
		Cliff:       3 * 30 * 24 * time.Hour,
		EpochLength: 30 * 24 * time.Hour,
		EpochCount:  10,
	}, 10_000)

	month := 30 * 24 * time.Hour

	// Two epochs elapsed but the cliff has not: nothing releases
	assert.True(t, sched.Releasable(epoch.Add(2*month)).IsZero())

	// After the cliff, three completed epochs are worth 3/10 of the total
	assert.Equal(t, uint256.NewInt(3_000), sched.Releasable(epoch.Add(3*month)))

	released, err := sched.Release(epoch.Add(3 * month))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(3_000), released)

	// Nothing more mid-epoch
	assert.True(t, sched.Releasable(epoch.Add(3*month+15*24*time.Hour)).IsZero())

	// Epochs 4 and 5 complete: two more steps
	assert.Equal(t, uint256.NewInt(2_000), sched.Releasable(epoch.Add(5*month)))

	// Far past the end, everything remaining releases
	released, err = sched.Release(epoch.Add(20 * month))
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(7_000), released)
}

func TestSchedule_FundOnce(t *testing.T) {
	sched, _ := fundedSchedule(t, Params{Start: epoch, Duration: time.Hour}, 100)
	assert.Error(t, sched.Fund(uint256.NewInt(1)))
}

func TestSchedule_ReleaseBeforeFunding(t *testing.T) {
	ledger := token.NewLedger("PROJ")
	beneficiary, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	sched, err := (&LocalFactory{Token: ledger}).Create(beneficiary, Params{Start: epoch, Duration: time.Hour})
	require.NoError(t, err)

	_, err = sched.Release(epoch.Add(2 * time.Hour))
	assert.ErrorIs(t, err, ErrNotFunded)
}

func TestSchedule_FailedReleaseKeepsAmountReleasable(t *testing.T) {
	ledger := token.NewLedger("PROJ")
	beneficiary, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	sched, err := (&LocalFactory{Token: ledger}).Create(beneficiary, Params{
		Start:    epoch,
		Duration: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, sched.Fund(uint256.NewInt(100)))

	// Custody was never funded on the ledger, so the transfer fails.
	at := epoch.Add(2 * time.Hour)
	_, err = sched.Release(at)
	require.Error(t, err)
	assert.Equal(t, uint256.NewInt(100), sched.Releasable(at))
	assert.True(t, sched.Released().IsZero())

	// Once the token recovers, the full amount still releases.
	require.NoError(t, ledger.Mint(sched.Custody(), uint256.NewInt(100)))
	released, err := sched.Release(at)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(100), released)
	assert.Equal(t, uint256.NewInt(100), ledger.BalanceOf(beneficiary))
}

func TestEpoch_FailedReleaseRestoresEpochCursor(t *testing.T) {
	ledger := token.NewLedger("PROJ")
	beneficiary, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	sched, err := (&LocalFactory{Token: ledger}).Create(beneficiary, Params{
		Start:       epoch,
		Duration:    time.Hour,
		EpochLength: 15 * time.Minute,
		EpochCount:  4,
	})
	require.NoError(t, err)
	require.NoError(t, sched.Fund(uint256.NewInt(400)))

	at := epoch.Add(30 * time.Minute)
	_, err = sched.Release(at)
	require.Error(t, err)

	require.NoError(t, ledger.Mint(sched.Custody(), uint256.NewInt(400)))
	released, err := sched.Release(at)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(200), released)
}

func TestParams_Validate(t *testing.T) {
	assert.Error(t, Params{Duration: 0}.Validate())
	assert.Error(t, Params{Duration: time.Hour, Cliff: 2 * time.Hour}.Validate())
	assert.Error(t, Params{Duration: time.Hour, EpochCount: 4}.Validate())
	assert.NoError(t, Params{Duration: time.Hour, Cliff: time.Minute}.Validate())
	assert.NoError(t, Params{Duration: time.Hour, EpochCount: 4, EpochLength: 15 * time.Minute}.Validate())
}

func TestFactory_FreshCustodyPerSchedule(t *testing.T) {
	ledger := token.NewLedger("PROJ")
	factory := &LocalFactory{Token: ledger}
	beneficiary, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	a, err := factory.Create(beneficiary, Params{Start: epoch, Duration: time.Hour})
	require.NoError(t, err)
	b, err := factory.Create(beneficiary, Params{Start: epoch, Duration: time.Hour})
	require.NoError(t, err)

	assert.NotEqual(t, a.Custody().String(), b.Custody().String())
}
