package entity

import (
	"time"

	"calendar-sync/core/entity"

	"github.com/google/uuid"
)

type ItemKind string

const (
	KindEvent ItemKind = "event"
	KindFocus ItemKind = "focus"
)

// Day is the date bucket items hang under.
type Day struct {
	entity.BaseEntity
	UserID uuid.UUID `db:"user_id" json:"user_id"`
	Day    time.Time `db:"day" json:"day"`
}

type Item struct {
	entity.BaseEntity
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	DayID       uuid.UUID  `db:"day_id" json:"day_id"`
	Kind        ItemKind   `db:"kind" json:"kind"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description,omitempty"`
	Location    string     `db:"location" json:"location,omitempty"`
	StartAt     time.Time  `db:"start_at" json:"start_at"`
	EndAt       time.Time  `db:"end_at" json:"end_at"`
	AllDay      bool       `db:"all_day" json:"all_day"`
	SourceID    *uuid.UUID `db:"source_id" json:"source_id,omitempty"`
}

type Settings struct {
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	Timezone     string    `db:"timezone" json:"timezone"`
	PastMonths   int       `db:"past_months" json:"past_months"`
	FutureMonths int       `db:"future_months" json:"future_months"`
}

// Window is the sync range around now.
func (s Settings) Window(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	return now.AddDate(0, -s.PastMonths, 0), now.AddDate(0, s.FutureMonths, 0)
}
