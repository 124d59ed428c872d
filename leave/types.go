// Package leave implements annual-leave accounting on top of the generic engine.
// The Ledger in this package is the only code path that changes an
// employee's DaysUsed counter.
package leave

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-ledger/generic"
)

// DefaultEntitlementDays is the annual entitlement of a new employee when
// none is given.
const DefaultEntitlementDays = 14

// ErrInvalidCategory is returned for a category outside the enumeration.
var ErrInvalidCategory = errors.New("invalid leave category")

// =============================================================================
// CATEGORY - Closed enumeration of leave kinds
// =============================================================================

// Category is a kind of leave. Exactly one category, CategoryAnnual, counts
// against the employee's entitlement; the others are recorded for
// information only.
type Category string

const (
	CategoryAnnual         Category = "annual"
	CategorySick           Category = "sick"
	CategoryExcuse         Category = "excuse"
	CategoryUnpaid         Category = "unpaid"
	CategoryMaternity      Category = "maternity"
	CategoryPaternity      Category = "paternity"
	CategoryMarriage       Category = "marriage"
	CategoryBereavement    Category = "bereavement"
	CategoryAdministrative Category = "administrative"
)

var categoryLabels = map[Category]string{
	CategoryAnnual:         "Yıllık İzin",
	CategorySick:           "Hastalık İzni",
	CategoryExcuse:         "Mazeret İzni",
	CategoryUnpaid:         "Ücretsiz İzin",
	CategoryMaternity:      "Doğum İzni",
	CategoryPaternity:      "Babalık İzni",
	CategoryMarriage:       "Evlilik İzni",
	CategoryBereavement:    "Vefat İzni",
	CategoryAdministrative: "İdari İzin",
}

// Categories returns every category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryAnnual, CategorySick, CategoryExcuse, CategoryUnpaid, CategoryMaternity,
		CategoryPaternity, CategoryMarriage, CategoryBereavement, CategoryAdministrative,
	}
}

// ParseCategory accepts a category code ("annual") or its label
// ("Yıllık İzin"). Matching is case-insensitive on the code only.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	c := Category(strings.ToLower(s))
	if _, ok := categoryLabels[c]; ok {
		return c, nil
	}
	for cat, label := range categoryLabels {
		if label == s {
			return cat, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// CountsAgainstEntitlement is true only for annual leave.
func (c Category) CountsAgainstEntitlement() bool {
	return c == CategoryAnnual
}

// Label is the display name of the category.
func (c Category) Label() string {
	return categoryLabels[c]
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID int64
type RecordID int64

// lockKey is the Locker key that serializes every balance operation of one employee.
func (id EmployeeID) lockKey() string {
	return fmt.Sprintf("employee:%d", id)
}

// =============================================================================
// EMPLOYEE
// =============================================================================

// Employee carries the balance state of one person. DaysUsed is written by
// the Ledger only; Version increases with every balance write.
type Employee struct {
	ID                    EmployeeID
	Name                  string
	AnnualEntitlementDays int
	DaysUsed              int
	Version               int64
	CreatedAt             time.Time
}

// Remaining is entitlement minus days used. It may be negative when an
// administrator lowered the entitlement after leave was taken.
func (e Employee) Remaining() int {
	return e.AnnualEntitlementDays - e.DaysUsed
}

// Balance returns the derived snapshot of e.
func (e Employee) Balance() Balance {
	return Balance{
		EmployeeID:  e.ID,
		Entitlement: e.AnnualEntitlementDays,
		DaysUsed:    e.DaysUsed,
		Remaining:   e.Remaining(),
	}
}

// Balance is computed on read, never stored.
type Balance struct {
	EmployeeID  EmployeeID
	Entitlement int
	DaysUsed    int
	Remaining   int
}

// =============================================================================
// LEAVE RECORD
// =============================================================================

// LeaveRecord is one leave entry owned by one employee.
type LeaveRecord struct {
	ID         RecordID
	EmployeeID EmployeeID
	Category   Category
	Period     generic.DateRange
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Span is the inclusive number of days the record covers.
func (r LeaveRecord) Span() int {
	return r.Period.Span()
}

// chargedDays is how many days the record takes from its owner's entitlement.
func (r LeaveRecord) chargedDays() int {
	if !r.Category.CountsAgainstEntitlement() {
		return 0
	}
	return r.Span()
}

// Status classifies the record relative to today.
func (r LeaveRecord) Status(today generic.Date) generic.RangeStatus {
	return r.Period.Classify(today)
}
