package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLastDecidedEpochTracksBothOutcomes(t *testing.T) {
	RecordEpochCommitted("primary", 1800)
	assert.Equal(t, float64(1800), testutil.ToFloat64(LastDecidedEpoch))

	// Skips decide the epoch too, so the gauge must follow them as well.
	RecordEpochSkipped("deviation", 3600)
	assert.Equal(t, float64(3600), testutil.ToFloat64(LastDecidedEpoch))
}
