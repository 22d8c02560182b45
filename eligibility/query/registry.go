package query

import (
	"context"
	"strings"
	"time"

	"github.com/havenhealth/eligibility-app/eligibility/convert"
	"github.com/havenhealth/eligibility-app/eligibility/models"
)

// QueryType selects the registry an organization's eligibility checks run
// against.
type QueryType string

const (
	QueryTypeBasic      QueryType = "BASIC"
	QueryTypeEmployer   QueryType = "EMPLOYER"
	QueryTypeHealthPlan QueryType = "HEALTH_PLAN"
)

// Search parameter names.
const (
	ParamFirstName            = "first_name"
	ParamLastName             = "last_name"
	ParamEmployeeFirstName    = "employee_first_name"
	ParamEmployeeLastName     = "employee_last_name"
	ParamEmail                = "email"
	ParamDateOfBirth          = "date_of_birth"
	ParamDependentDateOfBirth = "dependent_date_of_birth"
	ParamWorkState            = "work_state"
	ParamUniqueCorpID         = "unique_corp_id"
)

// Params are the prepared search parameters. Dates are parsed; everything
// else is trimmed.
type Params struct {
	FirstName            string
	LastName             string
	EmployeeFirstName    string
	EmployeeLastName     string
	Email                string
	WorkState            string
	UniqueCorpID         string
	DateOfBirth          *time.Time
	DependentDateOfBirth *time.Time
}

func (p Params) has(name string) bool {
	switch name {
	case ParamFirstName:
		return p.FirstName != ""
	case ParamLastName:
		return p.LastName != ""
	case ParamEmployeeFirstName:
		return p.EmployeeFirstName != ""
	case ParamEmployeeLastName:
		return p.EmployeeLastName != ""
	case ParamEmail:
		return p.Email != ""
	case ParamWorkState:
		return p.WorkState != ""
	case ParamUniqueCorpID:
		return p.UniqueCorpID != ""
	case ParamDateOfBirth:
		return p.DateOfBirth != nil
	case ParamDependentDateOfBirth:
		return p.DependentDateOfBirth != nil
	}
	return false
}

// PrepareParams parses and trims raw search parameters. Blank values and
// unparseable dates count as absent.
func PrepareParams(raw map[string]string) Params {
	get := func(name string) string {
		return strings.TrimSpace(raw[name])
	}

	params := Params{
		FirstName:         get(ParamFirstName),
		LastName:          get(ParamLastName),
		EmployeeFirstName: get(ParamEmployeeFirstName),
		EmployeeLastName:  get(ParamEmployeeLastName),
		Email:             get(ParamEmail),
		WorkState:         get(ParamWorkState),
		UniqueCorpID:      get(ParamUniqueCorpID),
	}
	if v := get(ParamDateOfBirth); v != "" {
		if parsed, err := convert.ToDate(v); err == nil {
			params.DateOfBirth = &parsed
		}
	}
	if v := get(ParamDependentDateOfBirth); v != "" {
		if parsed, err := convert.ToDate(v); err == nil {
			params.DependentDateOfBirth = &parsed
		}
	}
	return params
}

// QueryDefinition binds a named lookup to the parameters it needs. Execute
// always returns a list; single-member lookups wrap their result.
type QueryDefinition struct {
	Name     string
	Required []string
	Execute  func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) ([]*models.Member, error)
}

// Runnable reports whether every required parameter is present, returning
// the missing ones otherwise.
func (d QueryDefinition) Runnable(p Params) (bool, []string) {
	var missing []string
	for _, name := range d.Required {
		if !p.has(name) {
			missing = append(missing, name)
		}
	}
	return len(missing) == 0, missing
}

func wrapSingle(fn func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error)) func(context.Context, models.MemberQuerier, models.MemberVersion, Params) ([]*models.Member, error) {
	return func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) ([]*models.Member, error) {
		member, err := fn(ctx, q, v, p)
		if err != nil {
			return nil, err
		}
		if member == nil {
			return nil, nil
		}
		return []*models.Member{member}, nil
	}
}

var allByNameAndDOB = QueryDefinition{
	Name:     "get_all_by_name_and_date_of_birth",
	Required: []string{ParamFirstName, ParamLastName, ParamDateOfBirth},
	Execute: func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) ([]*models.Member, error) {
		return q.GetAllByNameAndDateOfBirth(ctx, v, p.FirstName, p.LastName, *p.DateOfBirth)
	},
}

var allByEmployeeNameAndDOB = QueryDefinition{
	Name:     "get_all_by_employee_name_and_date_of_birth",
	Required: []string{ParamEmployeeFirstName, ParamEmployeeLastName, ParamDateOfBirth},
	Execute: func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) ([]*models.Member, error) {
		return q.GetAllByEmployeeNameAndDateOfBirth(ctx, v, p.EmployeeFirstName, p.EmployeeLastName, *p.DateOfBirth)
	},
}

var byDOBAndEmail = QueryDefinition{
	Name:     "get_by_date_of_birth_and_email",
	Required: []string{ParamDateOfBirth, ParamEmail},
	Execute: wrapSingle(func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error) {
		return q.GetByDOBAndEmail(ctx, v, *p.DateOfBirth, p.Email)
	}),
}

var byDependentDOBAndEmail = QueryDefinition{
	Name:     "get_by_dependent_date_of_birth_and_email",
	Required: []string{ParamDependentDateOfBirth, ParamEmail},
	Execute: wrapSingle(func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error) {
		return q.GetByDependentDOBAndEmail(ctx, v, *p.DependentDateOfBirth, p.Email)
	}),
}

var byDOBNameAndWorkState = QueryDefinition{
	Name:     "get_by_date_of_birth_name_and_work_state",
	Required: []string{ParamDateOfBirth, ParamFirstName, ParamLastName, ParamWorkState},
	Execute: wrapSingle(func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error) {
		return q.GetByDOBNameAndWorkState(ctx, v, *p.DateOfBirth, p.FirstName, p.LastName, p.WorkState)
	}),
}

var byEmailAndName = QueryDefinition{
	Name:     "get_by_email_and_name",
	Required: []string{ParamEmail, ParamFirstName, ParamLastName},
	Execute: wrapSingle(func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error) {
		return q.GetByEmailAndName(ctx, v, p.Email, p.FirstName, p.LastName)
	}),
}

var byEmailAndEmployeeName = QueryDefinition{
	Name:     "get_by_email_and_employee_name",
	Required: []string{ParamEmail, ParamEmployeeFirstName, ParamEmployeeLastName},
	Execute: wrapSingle(func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error) {
		return q.GetByEmailAndEmployeeName(ctx, v, p.Email, p.EmployeeFirstName, p.EmployeeLastName)
	}),
}

var byNameAndCorpID = QueryDefinition{
	Name:     "get_by_name_and_unique_corp_id",
	Required: []string{ParamFirstName, ParamLastName, ParamUniqueCorpID},
	Execute: wrapSingle(func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error) {
		return q.GetByNameAndUniqueCorpID(ctx, v, p.FirstName, p.LastName, p.UniqueCorpID)
	}),
}

var byEmployeeNameAndCorpID = QueryDefinition{
	Name:     "get_by_employee_name_and_unique_corp_id",
	Required: []string{ParamEmployeeFirstName, ParamEmployeeLastName, ParamUniqueCorpID},
	Execute: wrapSingle(func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error) {
		return q.GetByEmployeeNameAndUniqueCorpID(ctx, v, p.EmployeeFirstName, p.EmployeeLastName, p.UniqueCorpID)
	}),
}

var byDOBAndCorpID = QueryDefinition{
	Name:     "get_by_date_of_birth_and_unique_corp_id",
	Required: []string{ParamDateOfBirth, ParamUniqueCorpID},
	Execute: wrapSingle(func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error) {
		return q.GetByDateOfBirthAndUniqueCorpID(ctx, v, *p.DateOfBirth, p.UniqueCorpID)
	}),
}

var byDependentDOBAndCorpID = QueryDefinition{
	Name:     "get_by_dependent_date_of_birth_and_unique_corp_id",
	Required: []string{ParamDependentDateOfBirth, ParamUniqueCorpID},
	Execute: wrapSingle(func(ctx context.Context, q models.MemberQuerier, v models.MemberVersion, p Params) (*models.Member, error) {
		return q.GetByDependentDateOfBirthAndUniqueCorpID(ctx, v, *p.DependentDateOfBirth, p.UniqueCorpID)
	}),
}

// Registry lists each query type's lookups in execution order. The first
// lookup returning members wins.
var Registry = map[QueryType][]QueryDefinition{
	QueryTypeBasic: {
		allByNameAndDOB,
	},
	QueryTypeEmployer: {
		byDOBAndEmail,
		byDependentDOBAndEmail,
		byDOBNameAndWorkState,
		byEmailAndName,
		byEmailAndEmployeeName,
		allByNameAndDOB,
	},
	QueryTypeHealthPlan: {
		byNameAndCorpID,
		byEmployeeNameAndCorpID,
		byDOBAndCorpID,
		byDependentDOBAndCorpID,
		allByNameAndDOB,
		allByEmployeeNameAndDOB,
	},
}

// RegistryFor returns the lookups for a query type, defaulting to BASIC.
func RegistryFor(queryType QueryType) []QueryDefinition {
	if queries, ok := Registry[queryType]; ok {
		return queries
	}
	return Registry[QueryTypeBasic]
}
