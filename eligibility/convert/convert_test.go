package convert

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToDate(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
		err      error
	}{
		{"01-02-1988", time.Date(1988, 1, 2, 0, 0, 0, 0, time.UTC), nil},
		{"1/2/1988", time.Date(1988, 1, 2, 0, 0, 0, 0, time.UTC), nil},
		{"01.02.1988", time.Date(1988, 1, 2, 0, 0, 0, 0, time.UTC), nil},
		{"1988-01-02", time.Date(1988, 1, 2, 0, 0, 0, 0, time.UTC), nil},
		{"1988-01-02 13:30:00", time.Date(1988, 1, 2, 0, 0, 0, 0, time.UTC), nil},
		{"12/31/99", time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC), nil},
		{"0001-01-01", time.Time{}, ErrDateUnknown},
		{"01-01-0001", time.Time{}, ErrDateUnknown},
		{"not a date", time.Time{}, ErrDateParse},
		{"", time.Time{}, ErrDateParse},
		{"02-30-1990", time.Time{}, ErrDateParse},
		{"13-01-1990", time.Time{}, ErrDateParse},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			parsed, err := ToDate(tt.input)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			assert.NoError(t, err)
			assert.True(t, tt.expected.Equal(parsed), "expected %s got %s", tt.expected, parsed)
		})
	}
}

func TestToDateTwoDigitYearCentury(t *testing.T) {
	// A two-digit year just past the current year's final two digits must
	// resolve to the previous century.
	currentTens := time.Now().Year() % 100
	input := fmt.Sprintf("01/01/%02d", (currentTens+1)%100)
	parsed, err := ToDate(input)
	assert.NoError(t, err)
	assert.True(t, parsed.Year() < time.Now().Year())
}

func TestToBool(t *testing.T) {
	for _, truthy := range []string{"true", "True", "TRUE", "1", "y", "yes", "YES"} {
		assert.True(t, ToBool(truthy), truthy)
	}
	for _, falsy := range []string{"", "false", "0", "n", "no", "maybe"} {
		assert.False(t, ToBool(falsy), falsy)
	}
}

func TestToBeneficiariesEnabled(t *testing.T) {
	assert.True(t, ToBeneficiariesEnabled("true"))
	assert.True(t, ToBeneficiariesEnabled("Family"))
	assert.True(t, ToBeneficiariesEnabled("Employee + Children"))
	assert.True(t, ToBeneficiariesEnabled("you+spouse/dp"))
	assert.False(t, ToBeneficiariesEnabled("employee only"))
	assert.False(t, ToBeneficiariesEnabled(""))
}

func TestToCanGetPregnant(t *testing.T) {
	assert.True(t, ToCanGetPregnant("F"))
	assert.True(t, ToCanGetPregnant("female"))
	assert.False(t, ToCanGetPregnant("M"))
	assert.False(t, ToCanGetPregnant(""))
}

func TestToCountryCode(t *testing.T) {
	assert.Equal(t, "USA", ToCountryCode("US"))
	assert.Equal(t, "USA", ToCountryCode("USA"))
	assert.Equal(t, "USA", ToCountryCode("United States of America"))
	assert.Equal(t, "CAN", ToCountryCode("Canada"))
	assert.Equal(t, CountryUnknown, ToCountryCode("Atlantis"))
	assert.Equal(t, CountryUnknown, ToCountryCode(""))
	assert.Equal(t, CountryUnknown, ToCountryCode("X"))
}

func TestToStateCode(t *testing.T) {
	assert.Equal(t, "CA", ToStateCode("CA", "USA"))
	assert.Equal(t, "CA", ToStateCode("California", "USA"))
	assert.Equal(t, "CA", ToStateCode("US-CA", "USA"))
	assert.Equal(t, "NY", ToStateCode("new york", "USA"))
	assert.Equal(t, "ON", ToStateCode("Ontario", "CAN"))
	assert.Equal(t, StateUnknown, ToStateCode("Narnia", "USA"))
	assert.Equal(t, StateUnknown, ToStateCode("", "USA"))
	// Unknown country context falls back to the default country.
	assert.Equal(t, "TX", ToStateCode("TX", "???"))
}

func TestResolveGenderCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"F", "F"},
		{"female", "F"},
		{"Woman", "F"},
		{"M", "M"},
		{"male", "M"},
		{"non-binary", "O"},
		{"X", "O"},
		{"unknown", "U"},
		{"decline to say", "U"},
		{"", ""},
		{"zz", "zz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ResolveGenderCode(tt.input), tt.input)
	}
}

func TestResolveDoNotContact(t *testing.T) {
	assert.Equal(t, "True", ResolveDoNotContact("t"))
	assert.Equal(t, "True", ResolveDoNotContact("TRUE"))
	assert.Equal(t, "False", ResolveDoNotContact("f"))
	assert.Equal(t, "False", ResolveDoNotContact("False"))
	assert.Equal(t, "", ResolveDoNotContact(""))
	assert.Equal(t, "sometimes", ResolveDoNotContact("sometimes"))
}
