package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantStats_SuccessRate(t *testing.T) {
	var nilStats *TenantStats
	assert.Equal(t, 0.0, nilStats.SuccessRate())

	empty := &TenantStats{}
	assert.Equal(t, 0.0, empty.SuccessRate())

	stats := &TenantStats{TotalForwards: 4, SuccessfulForwards: 3, FailedForwards: 1}
	assert.Equal(t, 75.0, stats.SuccessRate())
}

func TestOverview_FillSuccessRate(t *testing.T) {
	o := &Overview{TotalForwards: 3, SuccessfulForwards: 2, FailedForwards: 1}
	o.FillSuccessRate()
	assert.Equal(t, 66.67, o.SuccessRate)

	zero := &Overview{}
	zero.FillSuccessRate()
	assert.Equal(t, 0.0, zero.SuccessRate)
}

func TestTenantConfig_HasSecret(t *testing.T) {
	var nilCfg *TenantConfig
	assert.False(t, nilCfg.HasSecret())
	assert.False(t, (&TenantConfig{}).HasSecret())
	assert.True(t, (&TenantConfig{Secret: "pw"}).HasSecret())
}
