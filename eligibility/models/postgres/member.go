package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/havenhealth/eligibility-app/eligibility/models"
)

const memberColumns = "id, organization_id, file_id, first_name, last_name, email, " +
	"unique_corp_id, dependent_id, date_of_birth, work_state, " +
	"effective_range_lower, effective_range_upper, do_not_contact, gender_code, employer_assigned_id, " +
	"record, custom_attributes, hash_value, hash_version, created_at, updated_at"

func memberTable(v models.MemberVersion) string {
	if v == models.MemberV2 {
		return "members_v2"
	}
	return "members"
}

func memberSelect(v models.MemberVersion) *sqlbuilder.SelectBuilder {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(memberColumns)
	sb.From(memberTable(v))
	// Only currently effective members are eligible.
	sb.Where(
		"effective_range_lower <= CURRENT_DATE",
		"(effective_range_upper IS NULL OR effective_range_upper >= CURRENT_DATE)",
	)
	return sb
}

func scanMemberRows(rows *sql.Rows, v models.MemberVersion) ([]*models.Member, error) {
	var members []*models.Member
	for rows.Next() {
		var m models.Member
		var fileID sql.NullInt64
		var doNotContact, genderCode, employerAssignedID sql.NullString
		var lower, upper sql.NullTime
		var record, attrs []byte
		if err := rows.Scan(&m.ID, &m.OrganizationID, &fileID, &m.FirstName, &m.LastName, &m.Email,
			&m.UniqueCorpID, &m.DependentID, &m.DateOfBirth, &m.WorkState,
			&lower, &upper, &doNotContact, &genderCode, &employerAssignedID,
			&record, &attrs, &m.HashValue, &m.HashVersion, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Version = v
		if fileID.Valid {
			m.FileID = &fileID.Int64
		}
		m.DoNotContact = doNotContact.String
		m.GenderCode = genderCode.String
		m.EmployerAssignedID = employerAssignedID.String
		if lower.Valid || upper.Valid {
			m.EffectiveRange = &models.DateRange{}
			if lower.Valid {
				m.EffectiveRange.Lower = &lower.Time
			}
			if upper.Valid {
				m.EffectiveRange.Upper = &upper.Time
			}
		}
		if len(record) > 0 {
			if err := json.Unmarshal(record, &m.Record); err != nil {
				return nil, err
			}
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &m.CustomAttributes); err != nil {
				return nil, err
			}
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return members, nil
}

func (r *Repository) queryMembers(ctx context.Context, sb *sqlbuilder.SelectBuilder, v models.MemberVersion) ([]*models.Member, error) {
	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMemberRows(rows, v)
}

func (r *Repository) queryMember(ctx context.Context, sb *sqlbuilder.SelectBuilder, v models.MemberVersion) (*models.Member, error) {
	sb.OrderBy("updated_at").Desc().Limit(1)
	members, err := r.queryMembers(ctx, sb, v)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	return members[0], nil
}

const isoDate = "2006-01-02"

func (r *Repository) GetAllByNameAndDateOfBirth(ctx context.Context, v models.MemberVersion, firstName, lastName string, dateOfBirth time.Time) ([]*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("LOWER(first_name)", strings.ToLower(firstName)),
		sb.Equal("LOWER(last_name)", strings.ToLower(lastName)),
		sb.Equal("date_of_birth", dateOfBirth),
	)
	return r.queryMembers(ctx, sb, v)
}

func (r *Repository) GetAllByEmployeeNameAndDateOfBirth(ctx context.Context, v models.MemberVersion, firstName, lastName string, dateOfBirth time.Time) ([]*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("LOWER(record->>'employee_first_name')", strings.ToLower(firstName)),
		sb.Equal("LOWER(record->>'employee_last_name')", strings.ToLower(lastName)),
		sb.Equal("date_of_birth", dateOfBirth),
	)
	return r.queryMembers(ctx, sb, v)
}

func (r *Repository) GetByDOBAndEmail(ctx context.Context, v models.MemberVersion, dateOfBirth time.Time, email string) (*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("date_of_birth", dateOfBirth),
		sb.Equal("LOWER(email)", strings.ToLower(email)),
	)
	return r.queryMember(ctx, sb, v)
}

func (r *Repository) GetByDependentDOBAndEmail(ctx context.Context, v models.MemberVersion, dateOfBirth time.Time, email string) (*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("(record->>'dependent_date_of_birth')::date", dateOfBirth.Format(isoDate)),
		sb.Equal("LOWER(email)", strings.ToLower(email)),
	)
	return r.queryMember(ctx, sb, v)
}

func (r *Repository) GetByDOBNameAndWorkState(ctx context.Context, v models.MemberVersion, dateOfBirth time.Time, firstName, lastName, workState string) (*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("date_of_birth", dateOfBirth),
		sb.Equal("LOWER(first_name)", strings.ToLower(firstName)),
		sb.Equal("LOWER(last_name)", strings.ToLower(lastName)),
		sb.Equal("LOWER(work_state)", strings.ToLower(workState)),
	)
	return r.queryMember(ctx, sb, v)
}

func (r *Repository) GetByEmailAndName(ctx context.Context, v models.MemberVersion, email, firstName, lastName string) (*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("LOWER(email)", strings.ToLower(email)),
		sb.Equal("LOWER(first_name)", strings.ToLower(firstName)),
		sb.Equal("LOWER(last_name)", strings.ToLower(lastName)),
	)
	return r.queryMember(ctx, sb, v)
}

func (r *Repository) GetByEmailAndEmployeeName(ctx context.Context, v models.MemberVersion, email, firstName, lastName string) (*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("LOWER(email)", strings.ToLower(email)),
		sb.Equal("LOWER(record->>'employee_first_name')", strings.ToLower(firstName)),
		sb.Equal("LOWER(record->>'employee_last_name')", strings.ToLower(lastName)),
	)
	return r.queryMember(ctx, sb, v)
}

func (r *Repository) GetByNameAndUniqueCorpID(ctx context.Context, v models.MemberVersion, firstName, lastName, uniqueCorpID string) (*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("LOWER(first_name)", strings.ToLower(firstName)),
		sb.Equal("LOWER(last_name)", strings.ToLower(lastName)),
		sb.Equal("LOWER(unique_corp_id)", strings.ToLower(uniqueCorpID)),
	)
	return r.queryMember(ctx, sb, v)
}

func (r *Repository) GetByEmployeeNameAndUniqueCorpID(ctx context.Context, v models.MemberVersion, firstName, lastName, uniqueCorpID string) (*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("LOWER(record->>'employee_first_name')", strings.ToLower(firstName)),
		sb.Equal("LOWER(record->>'employee_last_name')", strings.ToLower(lastName)),
		sb.Equal("LOWER(unique_corp_id)", strings.ToLower(uniqueCorpID)),
	)
	return r.queryMember(ctx, sb, v)
}

func (r *Repository) GetByDateOfBirthAndUniqueCorpID(ctx context.Context, v models.MemberVersion, dateOfBirth time.Time, uniqueCorpID string) (*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("date_of_birth", dateOfBirth),
		sb.Equal("LOWER(unique_corp_id)", strings.ToLower(uniqueCorpID)),
	)
	return r.queryMember(ctx, sb, v)
}

func (r *Repository) GetByDependentDateOfBirthAndUniqueCorpID(ctx context.Context, v models.MemberVersion, dateOfBirth time.Time, uniqueCorpID string) (*models.Member, error) {
	sb := memberSelect(v)
	sb.Where(
		sb.Equal("(record->>'dependent_date_of_birth')::date", dateOfBirth.Format(isoDate)),
		sb.Equal("LOWER(unique_corp_id)", strings.ToLower(uniqueCorpID)),
	)
	return r.queryMember(ctx, sb, v)
}
