package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyActivity(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		wantTier ActivityTier
	}{
		{"5 minutes ago is hot", 5 * time.Minute, TierHot},
		{"11 minutes ago is active (boundary)", 11 * time.Minute, TierActive},
		{"59 minutes ago is active", 59 * time.Minute, TierActive},
		{"61 minutes ago is warm (boundary)", 61 * time.Minute, TierWarm},
		{"12 hours ago is warm", 12 * time.Hour, TierWarm},
		{"25 hours ago is stale", 25 * time.Hour, TierStale},
		{"zero time is stale", 0, TierStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lastWrite time.Time
			if tt.elapsed > 0 {
				lastWrite = time.Now().Add(-tt.elapsed)
			}
			got := classifyActivity(lastWrite)
			assert.Equal(t, tt.wantTier, got)
		})
	}
}

func TestTierInterval(t *testing.T) {
	tests := []struct {
		tier    ActivityTier
		wantDur time.Duration
	}{
		{TierHot, 1 * time.Minute},
		{TierActive, 5 * time.Minute},
		{TierWarm, 15 * time.Minute},
		{TierStale, 30 * time.Minute},
		{ActivityTier(99), 5 * time.Minute}, // unknown defaults to 5m
	}

	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			got := tierInterval(tt.tier)
			assert.Equal(t, tt.wantDur, got)
		})
	}
}

func TestNextInterval(t *testing.T) {
	assert.Equal(t, 2*time.Minute, nextInterval(TierStale, 2*time.Minute))
	assert.Equal(t, time.Minute, nextInterval(TierHot, 2*time.Minute))
	assert.Equal(t, 30*time.Minute, nextInterval(TierStale, 0))
}

func TestActivityTier_String(t *testing.T) {
	assert.Equal(t, "hot", TierHot.String())
	assert.Equal(t, "stale", TierStale.String())
	assert.Equal(t, "unknown", ActivityTier(42).String())
}
