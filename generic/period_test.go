package generic_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
)

func TestDateRange_Span_IsInclusive(t *testing.T) {
	r := generic.DateRange{
		Start: generic.MustParseDate("2024-06-01"),
		End:   generic.MustParseDate("2024-06-05"),
	}
	assert.Equal(t, 5, r.Span())

	single := generic.DateRange{Start: r.Start, End: r.Start}
	assert.Equal(t, 1, single.Span())
}

func TestDateRange_Span_AcrossMonthAndLeapDay(t *testing.T) {
	r := generic.DateRange{
		Start: generic.MustParseDate("2024-02-27"),
		End:   generic.MustParseDate("2024-03-02"),
	}
	assert.Equal(t, 5, r.Span(), "27, 28, 29 Feb + 1, 2 Mar")
}

func TestDateRange_Validate(t *testing.T) {
	start := generic.MustParseDate("2024-06-05")

	_, err := generic.NewDateRange(start, start.AddDays(-1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrInvalidRange))

	var rangeErr *generic.RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, "end before start", rangeErr.Reason)

	_, err = generic.NewDateRange(generic.Date{}, start)
	assert.ErrorIs(t, err, generic.ErrInvalidRange)

	r, err := generic.NewDateRange(start, start)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Span())
}

func TestDateRange_Overlaps(t *testing.T) {
	june := generic.DateRange{
		Start: generic.MustParseDate("2024-06-01"),
		End:   generic.MustParseDate("2024-06-10"),
	}

	tests := []struct {
		name  string
		other generic.DateRange
		want  bool
	}{
		{"touching end", generic.DateRange{Start: generic.MustParseDate("2024-06-10"), End: generic.MustParseDate("2024-06-12")}, true},
		{"day after", generic.DateRange{Start: generic.MustParseDate("2024-06-11"), End: generic.MustParseDate("2024-06-12")}, false},
		{"inside", generic.DateRange{Start: generic.MustParseDate("2024-06-03"), End: generic.MustParseDate("2024-06-04")}, true},
		{"before", generic.DateRange{Start: generic.MustParseDate("2024-05-01"), End: generic.MustParseDate("2024-05-31")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, june.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(june))
		})
	}
}

func TestDateRange_Classify(t *testing.T) {
	r := generic.DateRange{
		Start: generic.MustParseDate("2024-06-01"),
		End:   generic.MustParseDate("2024-06-05"),
	}

	assert.Equal(t, generic.StatusUpcoming, r.Classify(generic.MustParseDate("2024-05-31")))
	assert.Equal(t, generic.StatusActive, r.Classify(generic.MustParseDate("2024-06-01")))
	assert.Equal(t, generic.StatusActive, r.Classify(generic.MustParseDate("2024-06-05")))
	assert.Equal(t, generic.StatusPast, r.Classify(generic.MustParseDate("2024-06-06")))
}

func TestDate_TextRoundTrip(t *testing.T) {
	var d generic.Date
	require.NoError(t, d.UnmarshalText([]byte("2024-06-01")))
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", string(b))

	assert.Error(t, d.UnmarshalText([]byte("01/06/2024")))
}
