package fee

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_ScenarioRates(t *testing.T) {
	// 250 bps platform + 100 bps referrer on a 10,000-unit raise
	split, err := Apply(uint256.NewInt(10_000), 250, 100)
	require.NoError(t, err)

	assert.Equal(t, uint256.NewInt(250), split.PlatformFee)
	assert.Equal(t, uint256.NewInt(100), split.ReferrerFee)
	assert.Equal(t, uint256.NewInt(9_650), split.Net)
}

func TestApply_ZeroRates(t *testing.T) {
	split, err := Apply(uint256.NewInt(12345), 0, 0)
	require.NoError(t, err)

	assert.True(t, split.PlatformFee.IsZero())
	assert.True(t, split.ReferrerFee.IsZero())
	assert.Equal(t, uint256.NewInt(12345), split.Net)
}

func TestApply_FloorsFees(t *testing.T) {
	// 1 bps of 9999 = 0.9999 -> floors to 0
	split, err := Apply(uint256.NewInt(9_999), 1, 1)
	require.NoError(t, err)

	assert.True(t, split.PlatformFee.IsZero())
	assert.True(t, split.ReferrerFee.IsZero())
	assert.Equal(t, uint256.NewInt(9_999), split.Net)
}

func TestApply_Conservation(t *testing.T) {
	amounts := []uint64{1, 7, 10_000, 999_999_999}
	rates := [][2]uint64{{0, 0}, {1, 1}, {250, 100}, {5_000, 5_000}, {10_000, 0}}

	for _, amt := range amounts {
		for _, r := range rates {
			split, err := Apply(uint256.NewInt(amt), r[0], r[1])
			require.NoError(t, err)

			sum := new(uint256.Int).Add(split.Net, split.PlatformFee)
			sum.Add(sum, split.ReferrerFee)
			assert.Equal(t, uint256.NewInt(amt), sum, "amount=%d rates=%v", amt, r)
		}
	}
}

func TestApply_RejectsExcessiveRates(t *testing.T) {
	_, err := Apply(uint256.NewInt(100), 10_001, 0)
	assert.ErrorIs(t, err, ErrRateOutOfRange)

	_, err = Apply(uint256.NewInt(100), 6_000, 6_000)
	assert.ErrorIs(t, err, ErrRateOutOfRange)
}
