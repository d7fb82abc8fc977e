package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNaNParams(t *testing.T) {
	_, err := New(EaseOutBack, math.NaN(), 0)
	require.Error(t, err)
	var paramErr *ParamError
	require.ErrorAs(t, err, &paramErr)
}

func TestNew_RejectsNegativeOvershootForBack(t *testing.T) {
	_, err := New(EaseOutBack, 0, -1)
	require.Error(t, err)
}

func TestNew_RejectsNonPositiveSettlePower(t *testing.T) {
	_, err := New(Settle, 0, 0)
	require.Error(t, err)

	_, err = New(Settle, -1, 0)
	require.Error(t, err)
}

func TestNew_RejectsSubOneBounceCount(t *testing.T) {
	_, err := New(EaseOutBounce, 0.5, 0)
	require.Error(t, err)
}

func TestMustNew_PanicsOnInvalidParams(t *testing.T) {
	assert.Panics(t, func() {
		MustNew(Settle, -1, 0)
	})
}

func TestEvaluate_EndpointsLandOnZeroAndOne(t *testing.T) {
	families := []Family{
		Linear, EaseInQuad, EaseOutQuad, EaseInOutQuad,
		EaseInCubic, EaseOutCubic, EaseInOutCubic,
		EaseInQuart, EaseOutQuart, EaseInOutQuart,
	}
	for _, f := range families {
		c := MustNew(f, 0, 0)
		assert.InDeltaf(t, 0, c.Evaluate(0), 1e-9, "family %s at t=0", f)
		assert.InDeltaf(t, 1, c.Evaluate(1), 1e-9, "family %s at t=1", f)
	}
}

func TestEaseOutBack_OvershootsPastOne(t *testing.T) {
	c := MustNew(EaseOutBack, 0, 1.70158)
	var maxVal float64
	for i := 0; i <= 100; i++ {
		v := c.Evaluate(float64(i) / 100)
		if v > maxVal {
			maxVal = v
		}
	}
	assert.Greater(t, maxVal, 1.0)
	assert.InDelta(t, 1.0, c.Evaluate(1), 1e-9)
}

func TestEaseOutBounce_SettlesAtOne(t *testing.T) {
	c := MustNew(EaseOutBounce, 4, 0.6)
	assert.Equal(t, 1.0, c.Evaluate(1))
	assert.Equal(t, 0.0, c.Evaluate(0))
}

func TestEaseOutElastic_Endpoints(t *testing.T) {
	c := MustNew(EaseOutElastic, 0.3, 0)
	assert.Equal(t, 0.0, c.Evaluate(0))
	assert.Equal(t, 1.0, c.Evaluate(1))
}

func TestAnticipation_DeflectsBeforeLead(t *testing.T) {
	c := MustNew(Anticipation, 0.2, 0.1)
	// Early in the lead window the curve should dip negative.
	assert.Less(t, c.Evaluate(0.1), 0.0)
	assert.InDelta(t, 1.0, c.Evaluate(1.0), 1e-9)
}

func TestSquash_ReturnsToIdentityAtEndpoints(t *testing.T) {
	c := MustNew(Squash, 0.15, 0)
	assert.InDelta(t, 0, c.Evaluate(0), 1e-9)
	assert.InDelta(t, 1, c.Evaluate(1), 1e-9)
}

func TestSettle_ApproachesOne(t *testing.T) {
	c := MustNew(Settle, 6, 0)
	assert.InDelta(t, 1.0, c.Evaluate(5), 0.05)
}

func TestFamily_ReportsConstructedFamily(t *testing.T) {
	c := MustNew(EaseOutCubic, 0, 0)
	assert.Equal(t, EaseOutCubic, c.Family())
}

func TestParamError_MessageNamesFamilyAndReason(t *testing.T) {
	_, err := New(Settle, -1, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(Settle))
}
