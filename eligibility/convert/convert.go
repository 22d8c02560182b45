// Package convert holds the field-level converters applied to census rows and
// streamed records. Each converter operates on a single value and reports
// failures through sentinel errors or unknown-value markers rather than
// aborting the row.
package convert

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pariz/gountries"
	"github.com/pkg/errors"
)

var (
	// DateUnknown is the sentinel clients use for "no date".
	DateUnknown = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

	// DefaultDateOfBirth backfills rows from organizations that do not send
	// date_of_birth.
	DefaultDateOfBirth = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

	// ErrDateUnknown is returned when the input is the 0001-01-01 sentinel.
	ErrDateUnknown = errors.New("unknown date sentinel provided")

	// ErrDateParse is returned when the input cannot be interpreted as a
	// date.
	ErrDateParse = errors.New("could not parse date")
)

// Matches (M)M[- /.](D)D[- /.](YY)YY with an optional trailing time portion.
var commonDatePattern = regexp.MustCompile(
	`^(0?[1-9]|1[0-2])[\s/.-](0?[1-9]|[12][0-9]|3[01])[\s/.-](\d{4}|\d{2})(\D.*)?$`)

var isoLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ToDate parses a client-supplied date string. Both MM-DD-YYYY style inputs
// (with -, /, . or space separators and optional two-digit years) and ISO
// dates are accepted; a trailing time portion is ignored. The 0001-01-01
// sentinel yields ErrDateUnknown, anything unparseable ErrDateParse.
func ToDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrDateParse
	}

	if m := commonDatePattern.FindStringSubmatch(value); m != nil {
		month := atoi(m[1])
		day := atoi(m[2])
		year := atoi(m[3])
		if m[3] == "0001" && month == 1 && day == 1 {
			return time.Time{}, ErrDateUnknown
		}
		if len(m[3]) == 2 {
			year += resolveCentury(year)
		}
		return makeDate(year, month, day)
	}

	for _, layout := range isoLayouts {
		parsed, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		d := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		if d.Equal(DateUnknown) {
			return time.Time{}, ErrDateUnknown
		}
		return d, nil
	}

	return time.Time{}, ErrDateParse
}

// resolveCentury picks the century for a two-digit year: values beyond the
// current year's final two digits belong to the previous century.
func resolveCentury(year int) int {
	maxYear := time.Now().Year()
	century := maxYear - maxYear%100
	if year > maxYear-century {
		return century - 100
	}
	return century
}

func makeDate(year, month, day int) (time.Time, error) {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range days (e.g. Feb 30); reject those.
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return time.Time{}, ErrDateParse
	}
	return d, nil
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

var boolFlags = map[string]struct{}{
	"true": {}, "1": {}, "y": {}, "yes": {},
}

// ToBool interprets a census truthy value.
func ToBool(value string) bool {
	_, ok := boolFlags[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

var beneficiaryFlags = map[string]struct{}{
	"dependents":                            {},
	"ee+children":                           {},
	"employee+child":                        {},
	"employee+child(ren)":                   {},
	"employee+child(ren)+domesticpartner":   {},
	"employee+child(ren)+domesticpartner+dpchild(ren)": {},
	"employee+children":                     {},
	"employee+children+dpchildren":          {},
	"employee+dependent":                    {},
	"employee+dependent(s)":                 {},
	"employee+dependents":                   {},
	"employee+domesticpartner":              {},
	"employee+domesticpartner+children":     {},
	"employee+spouse":                       {},
	"family":                                {},
	"you+child":                             {},
	"you+child(ren)":                        {},
	"you+children":                          {},
	"you+family":                            {},
	"you+spouse/dp":                         {},
}

// ToBeneficiariesEnabled interprets the beneficiaries_enabled column, which
// clients populate with either truthy values or family-tier descriptions.
func ToBeneficiariesEnabled(value string) bool {
	if ToBool(value) {
		return true
	}
	collapsed := strings.ReplaceAll(strings.ToLower(value), " ", "")
	_, ok := beneficiaryFlags[collapsed]
	return ok
}

var pregnancySexes = map[string]struct{}{
	"female": {}, "f": {}, "fe": {},
}

// ToCanGetPregnant interprets the gender column into the can_get_pregnant
// flag.
func ToCanGetPregnant(value string) bool {
	_, ok := pregnancySexes[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

const (
	// StateUnknown marks a state value we could not normalize.
	StateUnknown = "<unknown state>"
	// CountryUnknown marks a country value we could not normalize.
	CountryUnknown = "<unknown country>"
	// CountryDefault is the country context assumed for state lookups when
	// the row carries no country.
	CountryDefault = "USA"
)

var (
	queryOnce sync.Once
	query     *gountries.Query
)

func countryQuery() *gountries.Query {
	queryOnce.Do(func() {
		query = gountries.New()
	})
	return query
}

// ToCountryCode normalizes a fuzzy country string to ISO-3166-1 alpha-3.
// Unrecognized input yields CountryUnknown.
func ToCountryCode(value string) string {
	value = strings.TrimSpace(value)
	if len(value) < 2 {
		return CountryUnknown
	}
	q := countryQuery()
	if country, err := q.FindCountryByAlpha(value); err == nil {
		return country.Alpha3
	}
	if country, err := q.FindCountryByName(value); err == nil {
		return country.Alpha3
	}
	return CountryUnknown
}

// ToStateCode normalizes a state or subdivision string within the given
// ISO-3166-1 alpha-3 country context, returning the short ISO-3166-2 code.
// Unrecognized input yields StateUnknown.
func ToStateCode(value, countryCode string) string {
	value = strings.TrimSpace(value)
	if len(value) < 2 {
		return StateUnknown
	}

	q := countryQuery()
	country, err := q.FindCountryByAlpha(countryCode)
	if err != nil {
		if country, err = q.FindCountryByAlpha(CountryDefault); err != nil {
			return StateUnknown
		}
	}

	// Accept "US-CA" style compound codes by using the trailing segment.
	if i := strings.LastIndex(value, "-"); i >= 0 && len(value)-i-1 >= 2 {
		value = value[i+1:]
	}

	for _, sub := range country.SubDivisions() {
		if strings.EqualFold(sub.Code, value) || strings.EqualFold(sub.Name, value) {
			return sub.Code
		}
		for _, name := range sub.Names {
			if strings.EqualFold(name, value) {
				return sub.Code
			}
		}
	}
	return StateUnknown
}

// genderCodes maps the normalized gender code to the aliases clients send.
var genderCodes = []struct {
	code    string
	aliases map[string]struct{}
}{
	{"F", set("F", "FEMALE", "W", "WOMAN")},
	{"M", set("M", "MAN", "MALE")},
	{"O", set("OTHER", "O", "NON-BINARY", "NONBINARY", "GENDERQUEER", "GENDERFLUID", "X")},
	{"U", set("UNKNOWN", "U", "NOT SPECIFIED", "NOT DECLARED", "UNDECLARED",
		"UNSPECIFIED", "D", "DECLINE_TO_SELF_IDENTIFY", "DECLINE TO SAY")},
}

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// ResolveGenderCode normalizes a gender value to one of F, M, O, U. Values
// outside the alias tables pass through unchanged so they can be inspected
// later.
func ResolveGenderCode(value string) string {
	sanitized := strings.ToUpper(strings.TrimSpace(value))
	if sanitized == "" {
		return ""
	}
	for _, gc := range genderCodes {
		if _, ok := gc.aliases[sanitized]; ok {
			return gc.code
		}
	}
	return value
}

var dncCodes = []struct {
	code    string
	aliases map[string]struct{}
}{
	{"True", set("T", "TRUE")},
	{"False", set("F", "FALSE")},
}

// ResolveDoNotContact normalizes a do-not-contact value to "True" or "False".
// Values outside the alias tables pass through unchanged.
func ResolveDoNotContact(value string) string {
	sanitized := strings.ToUpper(strings.TrimSpace(value))
	if sanitized == "" {
		return ""
	}
	for _, dc := range dncCodes {
		if _, ok := dc.aliases[sanitized]; ok {
			return dc.code
		}
	}
	return value
}
