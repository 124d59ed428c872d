package generic

// =============================================================================
// DATE RANGE - Inclusive range of calendar days
// =============================================================================

// DateRange is an inclusive range of days. A leave from June 1 to June 5
// covers five days: Start and End are both taken.
type DateRange struct {
	Start Date
	End   Date
}

// NewDateRange builds a range and validates it.
func NewDateRange(start, end Date) (DateRange, error) {
	r := DateRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate reports ErrInvalidRange when either bound is missing or End is
// before Start.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return &RangeError{Start: r.Start, End: r.End, Reason: "start and end are required"}
	}
	if r.End.Before(r.Start) {
		return &RangeError{Start: r.Start, End: r.End, Reason: "end before start"}
	}
	return nil
}

// Span is the inclusive day count, end - start + 1. It is only meaningful
// for a valid range.
func (r DateRange) Span() int {
	return r.Start.DaysUntil(r.End) + 1
}

// Contains returns true if d is within [Start, End].
func (r DateRange) Contains(d Date) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

// Overlaps returns true if the two inclusive ranges share at least one day.
func (r DateRange) Overlaps(other DateRange) bool {
	return r.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(r.End)
}

func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}

// =============================================================================
// CLASSIFICATION - Where a range sits relative to a reference day
// =============================================================================

// RangeStatus classifies a range relative to "today".
type RangeStatus string

const (
	StatusUpcoming RangeStatus = "upcoming" // starts after today
	StatusActive   RangeStatus = "active"   // today is inside the range
	StatusPast     RangeStatus = "past"     // ended before today
)

// Classify returns whether the range is upcoming, active or past on today.
func (r DateRange) Classify(today Date) RangeStatus {
	switch {
	case today.Before(r.Start):
		return StatusUpcoming
	case today.After(r.End):
		return StatusPast
	default:
		return StatusActive
	}
}
