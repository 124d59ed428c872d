package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    leave.Category
		wantErr bool
	}{
		{in: "annual", want: leave.CategoryAnnual},
		{in: " Annual ", want: leave.CategoryAnnual},
		{in: "Yıllık İzin", want: leave.CategoryAnnual},
		{in: "Hastalık İzni", want: leave.CategorySick},
		{in: "administrative", want: leave.CategoryAdministrative},
		{in: "holiday", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := leave.ParseCategory(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, leave.ErrInvalidCategory)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategories_OnlyAnnualCounts(t *testing.T) {
	counting := 0
	for _, c := range leave.Categories() {
		assert.True(t, c.Valid())
		assert.NotEmpty(t, c.Label())
		if c.CountsAgainstEntitlement() {
			counting++
			assert.Equal(t, leave.CategoryAnnual, c)
		}
	}
	assert.Equal(t, 1, counting)
	assert.Len(t, leave.Categories(), 9)
}

func TestEmployee_Balance(t *testing.T) {
	e := leave.Employee{ID: 7, AnnualEntitlementDays: 14, DaysUsed: 5}

	bal := e.Balance()
	assert.Equal(t, leave.EmployeeID(7), bal.EmployeeID)
	assert.Equal(t, 14, bal.Entitlement)
	assert.Equal(t, 5, bal.DaysUsed)
	assert.Equal(t, 9, bal.Remaining)
}

func TestLeaveRecord_SpanAndStatus(t *testing.T) {
	rec := leave.LeaveRecord{
		Category: leave.CategoryAnnual,
		Period: generic.DateRange{
			Start: generic.MustParseDate("2024-06-10"),
			End:   generic.MustParseDate("2024-06-14"),
		},
	}
	assert.Equal(t, 5, rec.Span())

	assert.Equal(t, generic.StatusUpcoming, rec.Status(generic.MustParseDate("2024-06-09")))
	assert.Equal(t, generic.StatusActive, rec.Status(generic.MustParseDate("2024-06-10")))
	assert.Equal(t, generic.StatusActive, rec.Status(generic.MustParseDate("2024-06-14")))
	assert.Equal(t, generic.StatusPast, rec.Status(generic.MustParseDate("2024-06-15")))
}
