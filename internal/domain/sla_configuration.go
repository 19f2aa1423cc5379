package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PriorityLevel classifies severity; P0 is the most urgent.
type PriorityLevel string

const (
	PriorityP0 PriorityLevel = "P0"
	PriorityP1 PriorityLevel = "P1"
	PriorityP2 PriorityLevel = "P2"
	PriorityP3 PriorityLevel = "P3"
)

// Valid reports whether p is a known priority.
func (p PriorityLevel) Valid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// EscalationLevel names the tier notified when a ticket escalates.
type EscalationLevel string

const (
	EscalationLevelManager          EscalationLevel = "manager"
	EscalationLevelTechnicalManager EscalationLevel = "technical_manager"
	EscalationLevelCEO              EscalationLevel = "ceo"
)

// Valid reports whether l is a known escalation level.
func (l EscalationLevel) Valid() bool {
	switch l {
	case EscalationLevelManager, EscalationLevelTechnicalManager, EscalationLevelCEO:
		return true
	}
	return false
}

// SlaConfiguration is the SLA rule for one (product, module, issue) triple.
type SlaConfiguration struct {
	ID                    string
	ProductID             string
	ModuleID              string
	IssueName             string
	PriorityLevel         PriorityLevel
	ResponseTimeMinutes   int
	ResolutionTimeMinutes int
	EscalationTimeMinutes *int
	EscalationLevel       EscalationLevel
	BusinessHoursOnly     bool
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Key returns the composite lookup key.
func (c *SlaConfiguration) Key() ConfigKey {
	return ConfigKey{ProductID: c.ProductID, ModuleID: c.ModuleID, IssueName: c.IssueName}
}

// Normalize trims the key fields, upper-cases the priority and lower-cases the level.
func (c *SlaConfiguration) Normalize() {
	c.ProductID = strings.TrimSpace(c.ProductID)
	c.ModuleID = strings.TrimSpace(c.ModuleID)
	c.IssueName = strings.TrimSpace(c.IssueName)
	c.PriorityLevel = PriorityLevel(strings.ToUpper(strings.TrimSpace(string(c.PriorityLevel))))
	c.EscalationLevel = EscalationLevel(strings.ToLower(strings.TrimSpace(string(c.EscalationLevel))))
}

// Validate enforces the configuration invariants.
func (c *SlaConfiguration) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ProductID) == "" || strings.TrimSpace(c.ModuleID) == "" || strings.TrimSpace(c.IssueName) == "" {
		errs = append(errs, errors.New("product_id, module_id and issue_name are required"))
	}
	if !c.PriorityLevel.Valid() {
		errs = append(errs, fmt.Errorf("unknown priority_level %q", c.PriorityLevel))
	}
	if c.ResponseTimeMinutes <= 0 || c.ResolutionTimeMinutes <= 0 {
		errs = append(errs, errors.New("response and resolution minutes must be positive"))
	}
	if c.ResponseTimeMinutes > c.ResolutionTimeMinutes {
		errs = append(errs, errors.New("response_time_minutes must not exceed resolution_time_minutes"))
	}
	if c.EscalationTimeMinutes != nil {
		if *c.EscalationTimeMinutes <= 0 {
			errs = append(errs, errors.New("escalation_time_minutes must be positive"))
		}
		if *c.EscalationTimeMinutes >= c.ResolutionTimeMinutes {
			errs = append(errs, errors.New("escalation_time_minutes must be less than resolution_time_minutes"))
		}
	}
	if c.EscalationLevel != "" && !c.EscalationLevel.Valid() {
		errs = append(errs, fmt.Errorf("unknown escalation_level %q", c.EscalationLevel))
	}
	return errors.Join(errs...)
}

// ConfigKey identifies an SLA configuration.
type ConfigKey struct {
	ProductID string
	ModuleID  string
	IssueName string
}

func (k ConfigKey) String() string {
	return k.ProductID + "/" + k.ModuleID + "/" + k.IssueName
}
