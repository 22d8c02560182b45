// Package featureflag gates behavior that is rolled out per environment
// or per organization through configuration.
package featureflag

import (
	"strconv"
	"strings"

	"github.com/havenhealth/eligibility-app/conf"
)

// FeatureFlags reports which optional behaviors are enabled for the
// current process.
type FeatureFlags interface {
	// IsV2Enabled reports whether eligibility checks for the given
	// organization may be served from v2 member records.
	IsV2Enabled(organizationID int64) bool
	// IsParallelQueryEnabled reports whether the query engine runs its
	// registry concurrently instead of in order.
	IsParallelQueryEnabled() bool
	// IsWriteDisabled reports whether member writes are suspended.
	IsWriteDisabled() bool
	// IsOptumLoggingEnabled reports whether raw external records are
	// logged during stream transformation.
	IsOptumLoggingEnabled() bool
	// IsParentFileSplitEnabled reports whether data-provider parent files
	// are diverted to the splitter instead of being ingested directly.
	IsParentFileSplitEnabled() bool
	// OvereligibilityOrgs returns the set of organizations allowed to
	// resolve to members across multiple organizations.
	OvereligibilityOrgs() map[int64]bool
}

type envFlags struct {
	v2Orgs          map[int64]bool
	v2All           bool
	parallelQuery   bool
	writeDisabled   bool
	optumLogging    bool
	parentFileSplit bool
	overeligibility map[int64]bool
}

// NewFromEnv builds feature flags from the process environment.
func NewFromEnv() FeatureFlags {
	f := &envFlags{
		parallelQuery:   parseBool(conf.GetEnv("ELIGIBILITY_PARALLEL_QUERY_ENABLED")),
		writeDisabled:   parseBool(conf.GetEnv("ELIGIBILITY_WRITE_DISABLED")),
		optumLogging:    parseBool(conf.GetEnv("ELIGIBILITY_OPTUM_LOGGING_ENABLED")),
		parentFileSplit: parseBool(conf.GetEnv("ELIGIBILITY_PARENT_FILE_SPLIT_ENABLED")),
	}

	v2 := conf.GetEnv("ELIGIBILITY_V2_ORGS")
	if strings.EqualFold(strings.TrimSpace(v2), "all") {
		f.v2All = true
	} else {
		f.v2Orgs = parseOrgSet(v2)
	}
	f.overeligibility = parseOrgSet(conf.GetEnv("ELIGIBILITY_OVERELIGIBILITY_ORGS"))
	return f
}

func (f *envFlags) IsV2Enabled(organizationID int64) bool {
	return f.v2All || f.v2Orgs[organizationID]
}

func (f *envFlags) IsParallelQueryEnabled() bool   { return f.parallelQuery }
func (f *envFlags) IsWriteDisabled() bool          { return f.writeDisabled }
func (f *envFlags) IsOptumLoggingEnabled() bool    { return f.optumLogging }
func (f *envFlags) IsParentFileSplitEnabled() bool { return f.parentFileSplit }

func (f *envFlags) OvereligibilityOrgs() map[int64]bool { return f.overeligibility }

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func parseOrgSet(s string) map[int64]bool {
	orgs := make(map[int64]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			orgs[id] = true
		}
	}
	return orgs
}

// Static is a fixed set of flags used by tests and operator tooling.
type Static struct {
	V2Orgs          map[int64]bool
	V2All           bool
	ParallelQuery   bool
	WriteDisabled   bool
	OptumLogging    bool
	ParentFileSplit bool
	OverOrgs        map[int64]bool
}

func (s Static) IsV2Enabled(organizationID int64) bool {
	return s.V2All || s.V2Orgs[organizationID]
}

func (s Static) IsParallelQueryEnabled() bool   { return s.ParallelQuery }
func (s Static) IsWriteDisabled() bool          { return s.WriteDisabled }
func (s Static) IsOptumLoggingEnabled() bool    { return s.OptumLogging }
func (s Static) IsParentFileSplitEnabled() bool { return s.ParentFileSplit }

func (s Static) OvereligibilityOrgs() map[int64]bool { return s.OverOrgs }
