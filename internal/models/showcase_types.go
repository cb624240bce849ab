package models

import "time"

// Showcase layouts.
const (
	ShowcaseLayoutCarousel = "carousel"
	ShowcaseLayoutGrid     = "grid"
)

// ShowcaseSection is the model for the 'showcase_sections' table: an
// admin-configured, time-boxed product carousel or grid on the homepage.
type ShowcaseSection struct {
	ID        int64      `json:"id" db:"id"`
	Title     string     `json:"title" db:"title"`
	Slug      string     `json:"slug" db:"slug"`
	Subtitle  string     `json:"subtitle" db:"subtitle"`
	Layout    string     `json:"layout" db:"layout"`
	Position  int        `json:"position" db:"position"`
	StartsAt  *time.Time `json:"startsAt,omitempty" db:"starts_at"`
	EndsAt    *time.Time `json:"endsAt,omitempty" db:"ends_at"`
	IsActive  bool       `json:"isActive" db:"is_active"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`

	ProductIDs []int64   `json:"productIds" db:"-"`
	Products   []Product `json:"products,omitempty" db:"-"`
}

// IsLive reports whether the section should be shown at now.
// Missing bounds are open; EndsAt is exclusive.
func (s *ShowcaseSection) IsLive(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.StartsAt != nil && now.Before(*s.StartsAt) {
		return false
	}
	if s.EndsAt != nil && !now.Before(*s.EndsAt) {
		return false
	}
	return true
}
