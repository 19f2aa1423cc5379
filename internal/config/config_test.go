package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SLA_WARNING_THRESHOLD_MINUTES", "")
	t.Setenv("BUSINESS_HOURS_WORKDAYS", "")
	t.Setenv("BUSINESS_HOURS_ENABLED", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.SLA.WarningThresholdMinutes)
	assert.Equal(t, 30*time.Minute, cfg.SLA.WarningThreshold())
	assert.Equal(t, "@every 60s", cfg.SLA.EvaluationSchedule)
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.False(t, cfg.BusinessHours.Enabled)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, cfg.BusinessHours.Workdays)
}

func TestLoadBusinessHours(t *testing.T) {
	t.Setenv("BUSINESS_HOURS_ENABLED", "true")
	t.Setenv("BUSINESS_HOURS_TIMEZONE", "Europe/Berlin")
	t.Setenv("BUSINESS_HOURS_START", "8")
	t.Setenv("BUSINESS_HOURS_END", "18")
	t.Setenv("BUSINESS_HOURS_WORKDAYS", "monday, Tue ,wed")
	t.Setenv("BUSINESS_HOURS_HOLIDAYS", "2026-12-25, 2026-12-26")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.BusinessHours.Enabled)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday}, cfg.BusinessHours.Workdays)
	require.Len(t, cfg.BusinessHours.Holidays, 2)
	assert.Equal(t, time.December, cfg.BusinessHours.Holidays[0].Month())
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown weekday", map[string]string{"BUSINESS_HOURS_WORKDAYS": "Mon,Funday"}},
		{"bad holiday", map[string]string{"BUSINESS_HOURS_HOLIDAYS": "25/12/2026"}},
		{"inverted hours", map[string]string{"BUSINESS_HOURS_ENABLED": "true", "BUSINESS_HOURS_START": "18", "BUSINESS_HOURS_END": "9"}},
		{"zero warning window", map[string]string{"SLA_WARNING_THRESHOLD_MINUTES": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
