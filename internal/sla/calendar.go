package sla

import (
	"fmt"
	"time"

	"github.com/rickar/cal/v2"

	"github.com/spec-kit/itsm-sla/internal/config"
)

// Calendar measures SLA time. Between is negative when end is before start.
type Calendar interface {
	Add(start time.Time, d time.Duration) time.Time
	Between(start, end time.Time) time.Duration
}

// AlwaysOpen counts every wall-clock minute.
type AlwaysOpen struct{}

// Add returns start shifted by d.
func (AlwaysOpen) Add(start time.Time, d time.Duration) time.Time {
	return start.Add(d)
}

// Between returns end - start.
func (AlwaysOpen) Between(start, end time.Time) time.Duration {
	return end.Sub(start)
}

// BusinessCalendar counts only working hours on workdays that are not holidays.
type BusinessCalendar struct {
	cal *cal.BusinessCalendar
	loc *time.Location
}

// NewBusinessCalendar builds a calendar from the business hours configuration.
func NewBusinessCalendar(cfg config.BusinessHoursConfig) (*BusinessCalendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("business hours timezone: %w", err)
	}

	c := cal.NewBusinessCalendar()
	for day := time.Sunday; day <= time.Saturday; day++ {
		c.SetWorkday(day, false)
	}
	for _, day := range cfg.Workdays {
		c.SetWorkday(day, true)
	}
	c.SetWorkHours(time.Duration(cfg.StartHour)*time.Hour, time.Duration(cfg.EndHour)*time.Hour)

	for _, day := range cfg.Holidays {
		c.AddHoliday(&cal.Holiday{
			Name:      day.Format("2006-01-02"),
			Type:      cal.ObservancePublic,
			Month:     day.Month(),
			Day:       day.Day(),
			Func:      cal.CalcDayOfMonth,
			StartYear: day.Year(),
			EndYear:   day.Year(),
		})
	}
	return &BusinessCalendar{cal: c, loc: loc}, nil
}

// Add returns the instant after d of working time has elapsed from start.
func (b *BusinessCalendar) Add(start time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return start
	}
	return b.cal.AddWorkHours(start.In(b.loc), d).UTC()
}

// Between returns the working time from start to end.
func (b *BusinessCalendar) Between(start, end time.Time) time.Duration {
	if end.Before(start) {
		return -b.cal.WorkHoursInRange(end.In(b.loc), start.In(b.loc))
	}
	return b.cal.WorkHoursInRange(start.In(b.loc), end.In(b.loc))
}
