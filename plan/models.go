package plan

import "fmt"

// Name is the unique catalog name of a plan.
type Name string

const (
	NameStandard Name = "Standard"
	NamePro      Name = "Pro"
)

// DefaultDurationMonths is the duration applied when a plan omits one.
const DefaultDurationMonths = 12

// DaysPerMonth is the month length used for plan-day arithmetic.
const DaysPerMonth = 30

// Valid reports whether n is one of the catalog names.
func (n Name) Valid() bool {
	return n == NameStandard || n == NamePro
}

// Plan is an immutable catalog entry.
type Plan struct {
	ID             int64 `json:"id"`
	Name           Name  `json:"name"`
	DurationMonths int   `json:"duration_months"`
}

// DurationDays returns the nominal length of the plan in days.
func (p *Plan) DurationDays() int {
	return p.DurationMonths * DaysPerMonth
}

// Validate checks the catalog constraints of a plan.
func (p *Plan) Validate() error {
	if !p.Name.Valid() {
		return fmt.Errorf("plan: unknown name %q", p.Name)
	}
	if p.DurationMonths <= 0 {
		return fmt.Errorf("plan: duration must be positive, got %d", p.DurationMonths)
	}
	return nil
}

// DefaultCatalog returns the plans seeded on initialization.
func DefaultCatalog() []*Plan {
	return []*Plan{
		{Name: NameStandard, DurationMonths: DefaultDurationMonths},
		{Name: NamePro, DurationMonths: DefaultDurationMonths},
	}
}
