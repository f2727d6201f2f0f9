package model

import "time"

type Service struct {
	ID                      string
	BusinessID              string
	Name                    string
	DurationMinutes         int
	MaxSimultaneousBookings int
	Enabled                 bool
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type BusinessSettings struct {
	BusinessID         string
	Timezone           string
	AdvanceBookingDays int
}

// DayHours is the opening window for one weekday, in minutes since local
// midnight.
type DayHours struct {
	Weekday     time.Weekday
	Enabled     bool
	OpenMinute  int
	CloseMinute int
}

// AvailabilityException overrides the weekday rule for one calendar date.
// A non-closed exception with both minutes set replaces that day's hours.
type AvailabilityException struct {
	Date        time.Time
	Closed      bool
	OpenMinute  *int
	CloseMinute *int
}

type Slot struct {
	Start             time.Time
	End               time.Time
	Available         bool
	CapacityRemaining int
	CapacityTotal     int
}
