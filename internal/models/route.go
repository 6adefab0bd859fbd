package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// DeparturePoint is one boarding stop on a schedule instance, with its
// stop-specific departure time ("HH:MM").
type DeparturePoint struct {
	Name          string `json:"name"`
	DepartureTime string `json:"departure_time"`
}

// BusFeatures describes the amenities of the bus serving an instance.
type BusFeatures struct {
	HasWifi           bool `json:"has_wifi"`
	HasToilet         bool `json:"has_toilet"`
	HasUSBCharger     bool `json:"has_usb_charger"`
	HasAirConditioner bool `json:"has_air_conditioner"`
}

// ScheduleInstance is one recurring departure slot on a route: fixed stop
// lists, time window, base price and seat capacity. It is not yet bound to
// a calendar date; the (instance, date) pair is the departure seats are
// actually reserved against.
type ScheduleInstance struct {
	ID                 string           `json:"id"`
	DepartureStartTime string           `json:"departure_start_time"`
	DepartureEndTime   string           `json:"departure_end_time"`
	DeparturePoints    []DeparturePoint `json:"departure_points"`
	ArrivalPoints      []string         `json:"arrival_points"`
	BasePrice          float64          `json:"base_price"`
	Capacity           int              `json:"capacity"`
	BusType            string           `json:"bus_type"`
	Features           BusFeatures      `json:"features"`
	Remarks            string           `json:"remarks,omitempty"`
}

// HasDeparturePoint reports whether the instance boards at the named stop.
func (s *ScheduleInstance) HasDeparturePoint(name string) bool {
	for _, p := range s.DeparturePoints {
		if p.Name == name {
			return true
		}
	}
	return false
}

// DeparturePointAt returns the boarding stop matching name and, when
// departureTime is non-empty, the stop-specific time as well.
func (s *ScheduleInstance) DeparturePointAt(name, departureTime string) (DeparturePoint, bool) {
	for _, p := range s.DeparturePoints {
		if p.Name != name {
			continue
		}
		if departureTime == "" || p.DepartureTime == departureTime {
			return p, true
		}
	}
	return DeparturePoint{}, false
}

// HasArrivalPoint reports whether the instance serves the named destination.
func (s *ScheduleInstance) HasArrivalPoint(name string) bool {
	for _, a := range s.ArrivalPoints {
		if a == name {
			return true
		}
	}
	return false
}

// WeeklySchedule keys the route's schedule instances by weekday.
type WeeklySchedule map[time.Weekday][]ScheduleInstance

// weekday names used in the persisted JSON form.
var weekdayNames = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// MarshalJSON renders the schedule keyed by weekday name.
func (w WeeklySchedule) MarshalJSON() ([]byte, error) {
	out := make(map[string][]ScheduleInstance, len(w))
	for name, day := range weekdayNames {
		if instances, ok := w[day]; ok {
			out[name] = instances
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the weekday-name keyed JSON form.
func (w *WeeklySchedule) UnmarshalJSON(data []byte) error {
	var raw map[string][]ScheduleInstance
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(WeeklySchedule, len(raw))
	for name, instances := range raw {
		day, ok := weekdayNames[name]
		if !ok {
			continue
		}
		out[day] = instances
	}
	*w = out
	return nil
}

// Value implements the driver.Valuer interface for the JSONB column.
func (w WeeklySchedule) Value() (driver.Value, error) {
	return json.Marshal(w)
}

// Scan implements the sql.Scanner interface.
func (w *WeeklySchedule) Scan(value interface{}) error {
	if value == nil {
		*w = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for WeeklySchedule")
	}
	return w.UnmarshalJSON(bytes)
}

// RouteStats carries the catalog's per-route counters.
type RouteStats struct {
	BookingCount   int     `json:"booking_count" db:"booking_count"`
	ViewCount      int     `json:"view_count" db:"view_count"`
	CompletionRate float64 `json:"completion_rate" db:"completion_rate"`
}

// RouteSnapshot is the read-only view of a catalog route the booking engine
// consumes. The only route state the engine ever writes back is the seat
// counter (through the ledger's durability hook) and the rating fold.
type RouteSnapshot struct {
	RouteID        string         `json:"route_id" db:"route_id"`
	Start          string         `json:"start" db:"start_city"`
	End            string         `json:"end" db:"end_city"`
	Active         bool           `json:"active" db:"active"`
	WeeklySchedule WeeklySchedule `json:"weekly_schedule" db:"weekly_schedule"`
	DistanceKM     float64        `json:"distance_km" db:"distance_km"`
	DurationMin    int            `json:"duration_min" db:"duration_min"`
	Rating         float64        `json:"rating" db:"rating"`
	RatingCount    int            `json:"rating_count" db:"rating_count"`
	Stats          RouteStats     `json:"stats"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// InstancesOn returns the schedule instances recurring on the weekday of
// the given calendar date.
func (r *RouteSnapshot) InstancesOn(date time.Time) []ScheduleInstance {
	if r.WeeklySchedule == nil {
		return nil
	}
	return r.WeeklySchedule[date.Weekday()]
}
