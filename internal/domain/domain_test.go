package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestSlaConfigurationValidate(t *testing.T) {
	valid := func() SlaConfiguration {
		return SlaConfiguration{
			ProductID:             "1",
			ModuleID:              "7",
			IssueName:             "Login failure",
			PriorityLevel:         PriorityP1,
			ResponseTimeMinutes:   480,
			ResolutionTimeMinutes: 960,
			EscalationTimeMinutes: intPtr(60),
			EscalationLevel:       EscalationLevelManager,
			IsActive:              true,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*SlaConfiguration)
		wantErr bool
	}{
		{"valid", func(*SlaConfiguration) {}, false},
		{"response equals resolution", func(c *SlaConfiguration) { c.ResponseTimeMinutes = 960 }, false},
		{"no escalation", func(c *SlaConfiguration) { c.EscalationTimeMinutes = nil; c.EscalationLevel = "" }, false},
		{"response exceeds resolution", func(c *SlaConfiguration) { c.ResponseTimeMinutes = 961 }, true},
		{"escalation equals resolution", func(c *SlaConfiguration) { c.EscalationTimeMinutes = intPtr(960) }, true},
		{"zero escalation", func(c *SlaConfiguration) { c.EscalationTimeMinutes = intPtr(0) }, true},
		{"zero response", func(c *SlaConfiguration) { c.ResponseTimeMinutes = 0 }, true},
		{"unknown priority", func(c *SlaConfiguration) { c.PriorityLevel = "P9" }, true},
		{"unknown level", func(c *SlaConfiguration) { c.EscalationLevel = "cto" }, true},
		{"missing key", func(c *SlaConfiguration) { c.IssueName = " " }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(TicketStatusNew, TicketStatusInProgress))
	assert.True(t, CanTransition(TicketStatusNew, TicketStatusEscalated))
	assert.True(t, CanTransition(TicketStatusInProgress, TicketStatusEscalated))
	assert.True(t, CanTransition(TicketStatusEscalated, TicketStatusClosed))
	assert.True(t, CanTransition(TicketStatusClosed, TicketStatusInProgress))

	assert.False(t, CanTransition(TicketStatusClosed, TicketStatusEscalated))
	assert.False(t, CanTransition(TicketStatusEscalated, TicketStatusInProgress))
	assert.False(t, CanTransition(TicketStatusInProgress, TicketStatusNew))
	assert.False(t, CanTransition(TicketStatusClosed, TicketStatusClosed))
}

func TestConfigKeyString(t *testing.T) {
	cfg := SlaConfiguration{ProductID: "1", ModuleID: "2", IssueName: "Outage"}
	assert.Equal(t, "1/2/Outage", cfg.Key().String())
}

func TestSlaConfigurationNormalize(t *testing.T) {
	c := SlaConfiguration{ProductID: " crm ", ModuleID: "billing ", IssueName: " refund", PriorityLevel: " p2", EscalationLevel: "Technical_Manager "}
	c.Normalize()
	assert.Equal(t, ConfigKey{ProductID: "crm", ModuleID: "billing", IssueName: "refund"}, c.Key())
	assert.Equal(t, PriorityP2, c.PriorityLevel)
	assert.Equal(t, EscalationLevelTechnicalManager, c.EscalationLevel)
}
