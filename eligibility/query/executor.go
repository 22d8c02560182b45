// Package query answers eligibility checks by running an ordered registry of
// member lookups and filtering the candidates down to active organizations.
package query

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/havenhealth/eligibility-app/eligibility/featureflag"
	"github.com/havenhealth/eligibility-app/eligibility/models"
	"github.com/havenhealth/eligibility-app/eligibility/orgconfig"
)

// ReturnMode selects how candidates are reduced to a result.
type ReturnMode int

const (
	// ReturnSingle expects the winning lookup to identify one member.
	ReturnSingle ReturnMode = iota
	// ReturnList returns every candidate from an active organization,
	// collapsed to the freshest record per organization.
	ReturnList
	// ReturnSingleFromList expects all candidates to share one organization
	// and returns the earliest-created record.
	ReturnSingleFromList
)

// redactedParams never appear in log output.
var redactedParams = map[string]struct{}{
	ParamFirstName:            {},
	ParamLastName:             {},
	ParamEmployeeFirstName:    {},
	ParamEmployeeLastName:     {},
	ParamEmail:                {},
	ParamDateOfBirth:          {},
	ParamDependentDateOfBirth: {},
	ParamUniqueCorpID:         {},
}

// Engine runs eligibility checks.
type Engine struct {
	Querier models.MemberQuerier
	Orgs    *orgconfig.Service
	Flags   featureflag.FeatureFlags
	Logger  logrus.FieldLogger
}

// Result is the outcome of an eligibility check. V1ID always references the
// matched v1 row, even when the members are served from v2.
type Result struct {
	Members   []*models.Member
	Version   models.MemberVersion
	QueryName string
	V1ID      int64
}

// First returns the resolved member, or nil when the result is empty.
func (r *Result) First() *models.Member {
	if r == nil || len(r.Members) == 0 {
		return nil
	}
	return r.Members[0]
}

// PerformEligibilityCheck runs the registry for the query type over the raw
// search parameters and reduces the candidates per the return mode.
func (e *Engine) PerformEligibilityCheck(ctx context.Context, raw map[string]string, queryType QueryType, mode ReturnMode) (*Result, error) {
	params := PrepareParams(raw)
	logger := e.Logger.WithFields(redactFields(raw))

	runnable, missing := runnableQueries(RegistryFor(queryType), params)
	if len(runnable) == 0 {
		return nil, &ValidationError{MissingParams: missing}
	}

	members, definition, err := e.execute(ctx, models.MemberV1, runnable, params)
	if err != nil {
		logger.WithError(err).Error("eligibility lookup failed")
		return nil, &MemberSearchError{}
	}
	if len(members) == 0 {
		return nil, &MemberSearchError{}
	}

	result := &Result{Members: members, Version: models.MemberV1, QueryName: definition.Name, V1ID: members[0].ID}

	// A multi-record match pins the result to v1; the comparison below only
	// holds for a single resolved member.
	if len(members) == 1 && e.Flags.IsV2Enabled(members[0].OrganizationID) {
		if v2 := e.attemptV2(ctx, definition, params, members[0], logger); v2 != nil {
			result = &Result{Members: v2, Version: models.MemberV2, QueryName: definition.Name, V1ID: members[0].ID}
		}
	}

	filtered, err := e.filterByMode(ctx, result.Members, queryType, mode)
	if err != nil {
		return nil, err
	}
	result.Members = filtered

	logger.WithFields(logrus.Fields{
		"query":          result.QueryName,
		"member_version": result.Version,
		"num_members":    len(result.Members),
	}).Info("eligibility check resolved")

	return result, nil
}

func runnableQueries(queries []QueryDefinition, params Params) ([]QueryDefinition, []string) {
	var runnable []QueryDefinition
	seen := map[string]struct{}{}
	var missing []string
	for _, definition := range queries {
		ok, absent := definition.Runnable(params)
		if ok {
			runnable = append(runnable, definition)
			continue
		}
		for _, name := range absent {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
		}
	}
	sort.Strings(missing)
	return runnable, missing
}

// execute runs the queries in registry order, stopping at the first that
// returns members. With the parallel flag enabled all queries run at once
// and the earliest-registered success wins.
func (e *Engine) execute(ctx context.Context, v models.MemberVersion, queries []QueryDefinition, params Params) ([]*models.Member, QueryDefinition, error) {
	if !e.Flags.IsParallelQueryEnabled() {
		var lastErr error
		for _, definition := range queries {
			members, err := definition.Execute(ctx, e.Querier, v, params)
			if err != nil {
				lastErr = err
				continue
			}
			if len(members) > 0 {
				return members, definition, nil
			}
		}
		return nil, QueryDefinition{}, lastErr
	}

	results := make([][]*models.Member, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, definition := range queries {
		i, definition := i, definition
		g.Go(func() error {
			members, err := definition.Execute(gctx, e.Querier, v, params)
			if err != nil {
				return err
			}
			results[i] = members
			return nil
		})
	}
	err := g.Wait()
	for i, members := range results {
		if len(members) > 0 {
			return members, queries[i], nil
		}
	}
	return nil, QueryDefinition{}, err
}

// attemptV2 reruns the winning lookup against the v2 member table and keeps
// the result only when it identifies the same person. Any divergence falls
// back to v1.
func (e *Engine) attemptV2(ctx context.Context, definition QueryDefinition, params Params, v1 *models.Member, logger logrus.FieldLogger) []*models.Member {
	members, err := definition.Execute(ctx, e.Querier, models.MemberV2, params)
	if err != nil {
		logger.WithError(err).Warn("v2 lookup failed, serving v1")
		return nil
	}
	if len(members) != 1 || !sameIdentity(v1, members[0]) {
		logger.WithField("query", definition.Name).Warn("v2 result diverged from v1, serving v1")
		return nil
	}
	return members
}

// sameIdentity compares the fields that identify a person across the two
// member tables.
func sameIdentity(a, b *models.Member) bool {
	return a.UniqueCorpID == b.UniqueCorpID &&
		a.OrganizationID == b.OrganizationID &&
		a.FirstName == b.FirstName &&
		a.LastName == b.LastName &&
		a.DateOfBirth.Equal(b.DateOfBirth) &&
		a.DependentID == b.DependentID
}

func (e *Engine) filterByMode(ctx context.Context, members []*models.Member, queryType QueryType, mode ReturnMode) ([]*models.Member, error) {
	switch mode {
	case ReturnSingle:
		return e.filterSingle(ctx, members)
	case ReturnList:
		return e.filterList(ctx, members)
	case ReturnSingleFromList:
		return e.filterSingleFromList(ctx, members)
	default:
		return nil, &UnsupportedReturnTypeError{QueryName: string(queryType)}
	}
}

func (e *Engine) filterSingle(ctx context.Context, members []*models.Member) ([]*models.Member, error) {
	if len(members) == 0 {
		return nil, &MemberSearchError{}
	}
	member := members[0]
	active, err := e.Orgs.IsActive(ctx, member.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, &InactiveOrganizationError{OrganizationID: member.OrganizationID}
	}
	return []*models.Member{member}, nil
}

// filterList keeps active organizations only and collapses duplicates to the
// most recently updated record per organization.
func (e *Engine) filterList(ctx context.Context, members []*models.Member) ([]*models.Member, error) {
	latest := map[int64]*models.Member{}
	var order []int64
	for _, member := range members {
		active, err := e.Orgs.IsActive(ctx, member.OrganizationID)
		if err != nil {
			return nil, err
		}
		if !active {
			continue
		}
		current, ok := latest[member.OrganizationID]
		if !ok {
			latest[member.OrganizationID] = member
			order = append(order, member.OrganizationID)
			continue
		}
		if member.UpdatedAt.After(current.UpdatedAt) {
			latest[member.OrganizationID] = member
		}
	}

	if len(order) == 0 {
		return nil, &MemberSearchError{}
	}
	// A result spanning organizations is only served when every organization
	// is enrolled in overeligibility.
	if len(order) > 1 {
		allowed := e.Flags.OvereligibilityOrgs()
		for _, orgID := range order {
			if !allowed[orgID] {
				ids := append([]int64(nil), order...)
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
				return nil, &MatchMultipleError{OrganizationIDs: ids}
			}
		}
	}
	result := make([]*models.Member, 0, len(order))
	for _, orgID := range order {
		result = append(result, latest[orgID])
	}
	return result, nil
}

// filterSingleFromList requires all active candidates to share one
// organization and keeps the newest record by creation time.
func (e *Engine) filterSingleFromList(ctx context.Context, members []*models.Member) ([]*models.Member, error) {
	var active []*models.Member
	orgs := map[int64]struct{}{}
	for _, member := range members {
		ok, err := e.Orgs.IsActive(ctx, member.OrganizationID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		active = append(active, member)
		orgs[member.OrganizationID] = struct{}{}
	}

	if len(active) == 0 {
		return nil, &MemberSearchError{}
	}
	if len(orgs) > 1 {
		ids := make([]int64, 0, len(orgs))
		for id := range orgs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return nil, &MatchMultipleError{OrganizationIDs: ids}
	}

	chosen := active[0]
	for _, member := range active[1:] {
		if member.CreatedAt.After(chosen.CreatedAt) {
			chosen = member
		}
	}
	return []*models.Member{chosen}, nil
}

// redactFields renders search parameters for logging with PII removed.
func redactFields(raw map[string]string) logrus.Fields {
	fields := make(logrus.Fields, len(raw))
	for k, v := range raw {
		if _, redact := redactedParams[k]; redact {
			fields[k] = "[REDACTED]"
			continue
		}
		fields[k] = v
	}
	return fields
}
