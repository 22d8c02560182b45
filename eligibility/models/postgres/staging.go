package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/havenhealth/eligibility-app/eligibility/models"
)

const parseColumns = "file_id, organization_id, data_provider_organization_id, first_name, last_name, email, " +
	"unique_corp_id, dependent_id, date_of_birth, state, work_state, country, " +
	"effective_range_lower, effective_range_upper, do_not_contact, gender_code, employer_assigned_id, " +
	"record, custom_attributes, hash_value, hash_version, errors, warnings"

func (r *Repository) persistParseRecords(ctx context.Context, table string, records []*models.ParsedRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ib := sqlFlavor.NewInsertBuilder().InsertInto(table).
		Cols("file_id", "organization_id", "data_provider_organization_id", "first_name", "last_name", "email",
			"unique_corp_id", "dependent_id", "date_of_birth", "state", "work_state", "country",
			"effective_range_lower", "effective_range_upper", "do_not_contact", "gender_code", "employer_assigned_id",
			"record", "custom_attributes", "hash_value", "hash_version", "errors", "warnings")

	for _, record := range records {
		blob, err := marshalBlob(record.Record)
		if err != nil {
			return 0, err
		}
		attrs, err := marshalBlob(record.CustomAttributes)
		if err != nil {
			return 0, err
		}
		var lower, upper *time.Time
		if record.EffectiveRange != nil {
			lower, upper = record.EffectiveRange.Lower, record.EffectiveRange.Upper
		}
		ib.Values(record.FileID, record.OrganizationID, record.DataProviderOrganizationID,
			record.FirstName, record.LastName, record.Email,
			record.UniqueCorpID, record.DependentID, record.DateOfBirth, record.State, record.WorkState, record.Country,
			lower, upper, record.DoNotContact, record.GenderCode, record.EmployerAssignedID,
			blob, attrs, record.HashValue, record.HashVersion,
			pq.Array(record.Errors), pq.Array(record.Warnings))
	}

	query, args := ib.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (r *Repository) PersistParseResults(ctx context.Context, records []*models.ParsedRecord) (int64, error) {
	return r.persistParseRecords(ctx, "parse_results", records)
}

func (r *Repository) PersistParseErrors(ctx context.Context, records []*models.ParsedRecord) (int64, error) {
	return r.persistParseRecords(ctx, "parse_errors", records)
}

func (r *Repository) deleteByFileID(ctx context.Context, table string, fileID int64) (int64, error) {
	db := sqlFlavor.NewDeleteBuilder().DeleteFrom(table)
	db.Where(db.Equal("file_id", fileID))

	query, args := db.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (r *Repository) DeleteParseResults(ctx context.Context, fileID int64) (int64, error) {
	return r.deleteByFileID(ctx, "parse_results", fileID)
}

func (r *Repository) DeleteParseErrors(ctx context.Context, fileID int64) (int64, error) {
	return r.deleteByFileID(ctx, "parse_errors", fileID)
}

// FlushFile promotes the file's staging rows into the canonical member table
// and marks the file completed. The completion check and the promotion run in
// one transaction, so a redelivered completion message is a no-op.
func (r *Repository) FlushFile(ctx context.Context, file *models.File) (int64, error) {
	if r.db == nil {
		return r.flushFile(ctx, r, file)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	count, err := r.flushFile(ctx, NewRepositoryTx(tx), file)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return count, nil
}

func (r *Repository) flushFile(ctx context.Context, tx *Repository, file *models.File) (int64, error) {
	var completedAt sql.NullTime
	lockQuery, lockArgs := sqlbuilder.Buildf(
		"SELECT completed_at FROM files WHERE id = %s FOR UPDATE", file.ID).
		BuildWithFlavor(sqlFlavor)
	if err := tx.QueryRowContext(ctx, lockQuery, lockArgs...).Scan(&completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errors.New("file not found")
		}
		return 0, err
	}
	if completedAt.Valid {
		return 0, nil
	}

	query, args := sqlbuilder.Buildf(`INSERT INTO members
		(organization_id, file_id, first_name, last_name, email,
			unique_corp_id, dependent_id, date_of_birth, work_state,
			effective_range_lower, effective_range_upper, do_not_contact, gender_code, employer_assigned_id,
			record, custom_attributes, hash_value, hash_version, created_at, updated_at)
		SELECT organization_id, file_id, first_name, last_name, email,
			unique_corp_id, dependent_id, date_of_birth, work_state,
			effective_range_lower, effective_range_upper, do_not_contact, gender_code, employer_assigned_id,
			record, custom_attributes, hash_value, hash_version, NOW(), NOW()
		FROM parse_results WHERE file_id = %s
		ON CONFLICT (organization_id, unique_corp_id, dependent_id) DO UPDATE SET
			file_id = EXCLUDED.file_id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			date_of_birth = EXCLUDED.date_of_birth,
			work_state = EXCLUDED.work_state,
			effective_range_lower = EXCLUDED.effective_range_lower,
			effective_range_upper = EXCLUDED.effective_range_upper,
			do_not_contact = EXCLUDED.do_not_contact,
			gender_code = EXCLUDED.gender_code,
			employer_assigned_id = EXCLUDED.employer_assigned_id,
			record = EXCLUDED.record,
			custom_attributes = EXCLUDED.custom_attributes,
			hash_value = EXCLUDED.hash_value,
			hash_version = EXCLUDED.hash_version,
			updated_at = NOW()
		WHERE members.hash_value IS DISTINCT FROM EXCLUDED.hash_value`, file.ID).
		BuildWithFlavor(sqlFlavor)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.SetFileCompletedAt(ctx, file.ID, time.Now()); err != nil {
		return 0, err
	}

	return count, nil
}

// ExpireMissingMembers closes the effective range of canonical members for
// the file's organization that do not appear in the file's staging rows.
func (r *Repository) ExpireMissingMembers(ctx context.Context, file *models.File) (int64, error) {
	query, args := sqlbuilder.Buildf(`UPDATE members SET
			effective_range_upper = CURRENT_DATE,
			updated_at = NOW()
		WHERE organization_id = %s
			AND (effective_range_upper IS NULL OR effective_range_upper > CURRENT_DATE)
			AND NOT EXISTS (
				SELECT 1 FROM parse_results pr
				WHERE pr.file_id = %s
					AND pr.unique_corp_id = members.unique_corp_id
					AND pr.dependent_id = members.dependent_id)`,
		file.OrganizationID, file.ID).
		BuildWithFlavor(sqlFlavor)

	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (r *Repository) GetSuccessCountFromPreviousFile(ctx context.Context, organizationID int64) (int64, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("success_count")
	sb.From("files")
	sb.Where(
		sb.Equal("organization_id", organizationID),
		sb.IsNotNull("completed_at"),
	)
	sb.OrderBy("completed_at").Desc().Limit(1)

	query, args := sb.Build()
	var count int64
	if err := r.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}

	return count, nil
}

// UpsertExternalRecords writes streamed records straight to the canonical
// table. Rows whose stored hash already matches are left untouched.
func (r *Repository) UpsertExternalRecords(ctx context.Context, records []*models.ExternalRecordAndAddress) (int64, error) {
	var total int64
	for _, pair := range records {
		record := pair.Record
		blob, err := marshalBlob(record.Record)
		if err != nil {
			return total, err
		}
		attrs, err := marshalBlob(record.CustomAttributes)
		if err != nil {
			return total, err
		}
		address, err := marshalAddress(pair.Address)
		if err != nil {
			return total, err
		}
		var lower, upper *time.Time
		if record.EffectiveRange != nil {
			lower, upper = record.EffectiveRange.Lower, record.EffectiveRange.Upper
		}

		query, args := sqlbuilder.Buildf(`INSERT INTO members
			(organization_id, first_name, last_name, email,
				unique_corp_id, dependent_id, date_of_birth, work_state,
				effective_range_lower, effective_range_upper, do_not_contact, gender_code, employer_assigned_id,
				external_id, source, address, record, custom_attributes, hash_value, hash_version,
				created_at, updated_at)
			VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, NOW(), NOW())
			ON CONFLICT (organization_id, unique_corp_id, dependent_id) DO UPDATE SET
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				email = EXCLUDED.email,
				date_of_birth = EXCLUDED.date_of_birth,
				work_state = EXCLUDED.work_state,
				effective_range_lower = EXCLUDED.effective_range_lower,
				effective_range_upper = EXCLUDED.effective_range_upper,
				do_not_contact = EXCLUDED.do_not_contact,
				gender_code = EXCLUDED.gender_code,
				employer_assigned_id = EXCLUDED.employer_assigned_id,
				external_id = EXCLUDED.external_id,
				source = EXCLUDED.source,
				address = EXCLUDED.address,
				record = EXCLUDED.record,
				custom_attributes = EXCLUDED.custom_attributes,
				hash_value = EXCLUDED.hash_value,
				hash_version = EXCLUDED.hash_version,
				updated_at = NOW()
			WHERE members.hash_value IS DISTINCT FROM EXCLUDED.hash_value`,
			record.OrganizationID, record.FirstName, record.LastName, record.Email,
			record.UniqueCorpID, record.DependentID, record.DateOfBirth, record.WorkState,
			lower, upper, record.DoNotContact, record.GenderCode, record.EmployerAssignedID,
			record.ExternalID, record.Source, address, blob, attrs, record.HashValue, record.HashVersion).
			BuildWithFlavor(sqlFlavor)

		result, err := r.ExecContext(ctx, query, args...)
		if err != nil {
			return total, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += affected
	}

	return total, nil
}
