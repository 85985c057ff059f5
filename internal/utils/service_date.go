package utils

import (
	"fmt"
	"time"
	_ "time/tzdata" // service zone must resolve in scratch containers
)

// ServiceClock produces service-day keys in a fixed time zone
type ServiceClock struct {
	loc *time.Location
	now func() time.Time
}

// NewServiceClock loads the zone by IANA name
func NewServiceClock(zone string) (*ServiceClock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %s: %w", zone, err)
	}
	return &ServiceClock{loc: loc, now: time.Now}, nil
}

// WithNow overrides the time source
func (c *ServiceClock) WithNow(now func() time.Time) *ServiceClock {
	return &ServiceClock{loc: c.loc, now: now}
}

// Now returns the current time in the service zone
func (c *ServiceClock) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns today's key, e.g. 2026-03-14
func (c *ServiceClock) Today() string {
	return c.DateKey(c.now())
}

// DateKey formats t as YYYY-MM-DD in the service zone
func (c *ServiceClock) DateKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// Location returns the service zone
func (c *ServiceClock) Location() *time.Location {
	return c.loc
}
