package shipping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate_FartherAndHeavierCostsMore(t *testing.T) {
	exp := fixedNow.Add(time.Minute)

	local, err := estimate(ServicePAC, "01310100", "01310900", 1000, "r", exp)
	require.NoError(t, err)
	far, err := estimate(ServicePAC, "01310100", "69005000", 1000, "r", exp)
	require.NoError(t, err)
	heavy, err := estimate(ServicePAC, "01310100", "01310900", 5000, "r", exp)
	require.NoError(t, err)

	assert.True(t, far.Price.GreaterThan(local.Price))
	assert.Greater(t, far.ETADays, local.ETADays)
	assert.True(t, heavy.Price.GreaterThan(local.Price))
	assert.True(t, local.IsEstimate)
	assert.Equal(t, "r", local.Reason)
	assert.Equal(t, exp, local.ExpiresAt)
}

func TestEstimate_SEDEXFasterThanPAC(t *testing.T) {
	pac, err := estimate(ServicePAC, "01310100", "90010000", 1000, "", fixedNow)
	require.NoError(t, err)
	sedex, err := estimate(ServiceSEDEX, "01310100", "90010000", 1000, "", fixedNow)
	require.NoError(t, err)
	assert.Less(t, sedex.ETADays, pac.ETADays)
}

func TestEstimate_UnknownService(t *testing.T) {
	_, err := estimate("12345", "01310100", "90010000", 1000, "", fixedNow)
	assert.ErrorIs(t, err, errUnknownService)
}

func TestDistanceKM(t *testing.T) {
	assert.Zero(t, distanceKM("01310100", "01399999"))
	assert.Equal(t, float64(sameRegionKM), distanceKM("01310100", "05000000"))
	d := distanceKM("01310100", "90010000")
	assert.Greater(t, d, 700.0)
	assert.Less(t, d, 1000.0)
}
