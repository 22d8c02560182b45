package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/havenhealth/eligibility-app/eligibility/models"
)

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type executable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	sqlFlavor = sqlbuilder.PostgreSQL
)

// Ensure Repository satisfies the interfaces
var (
	_ models.ConfigurationRepository = &Repository{}
	_ models.FileRepository          = &Repository{}
	_ models.StagingRepository       = &Repository{}
	_ models.MemberRepository        = &Repository{}
	_ models.MemberQuerier           = &Repository{}
)

type Repository struct {
	queryable
	executable

	// db is set when the repository was built from a pool, allowing
	// multi-statement operations to open their own transaction.
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db, db, db}
}

func NewRepositoryTx(tx *sql.Tx) *Repository {
	return &Repository{tx, tx, nil}
}

func (r *Repository) GetConfigurationByDirectory(ctx context.Context, directory string) (*models.Configuration, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(configurationColumns)
	sb.From("configurations")
	sb.Where(sb.Equal("directory_name", directory))

	query, args := sb.Build()
	return scanConfiguration(r.QueryRowContext(ctx, query, args...))
}

func (r *Repository) GetConfigurationByID(ctx context.Context, organizationID int64) (*models.Configuration, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(configurationColumns)
	sb.From("configurations")
	sb.Where(sb.Equal("organization_id", organizationID))

	query, args := sb.Build()
	return scanConfiguration(r.QueryRowContext(ctx, query, args...))
}

const configurationColumns = "organization_id, directory_name, email_domains, data_provider, activated_at, terminated_at, eligibility_type"

func scanConfiguration(row *sql.Row) (*models.Configuration, error) {
	var cfg models.Configuration
	var domains pq.StringArray
	err := row.Scan(&cfg.OrganizationID, &cfg.DirectoryName, &domains, &cfg.DataProvider,
		&cfg.ActivatedAt, &cfg.TerminatedAt, &cfg.EligibilityType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cfg.EmailDomains = domains
	return &cfg, nil
}

func (r *Repository) GetHeaderAliases(ctx context.Context, organizationID int64) (models.HeaderMapping, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("field_name", "alias")
	sb.From("header_aliases")
	sb.Where(sb.Equal("organization_id", organizationID))

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aliases := make(models.HeaderMapping)
	for rows.Next() {
		var field, alias string
		if err := rows.Scan(&field, &alias); err != nil {
			return nil, err
		}
		aliases[field] = alias
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return aliases, nil
}

func (r *Repository) GetExternalOrgInfo(ctx context.Context, source, externalID string) (*models.ExternalOrgInfo, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("organization_id", "external_id", "source", "activated_at")
	sb.From("external_org_infos")
	sb.Where(
		sb.Equal("source", source),
		sb.Equal("external_id", externalID),
	)

	query, args := sb.Build()
	var info models.ExternalOrgInfo
	err := r.QueryRowContext(ctx, query, args...).
		Scan(&info.OrganizationID, &info.ExternalID, &info.Source, &info.ActivatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &info, nil
}

func (r *Repository) GetCustomAttributes(ctx context.Context, organizationID int64) (map[string]string, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("alias", "attribute_name")
	sb.From("custom_attribute_keys")
	sb.Where(sb.Equal("organization_id", organizationID))

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var alias, name string
		if err := rows.Scan(&alias, &name); err != nil {
			return nil, err
		}
		attrs[alias] = name
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return attrs, nil
}

func (r *Repository) CreateFile(ctx context.Context, organizationID int64, name string) (*models.File, error) {
	query, args := sqlbuilder.Buildf(`INSERT INTO files
		(organization_id, name, created_at, updated_at) VALUES
		(%s, %s, NOW(), NOW()) RETURNING id, created_at, updated_at`,
		organizationID, name).
		BuildWithFlavor(sqlFlavor)

	file := models.File{OrganizationID: organizationID, Name: name}
	if err := r.QueryRowContext(ctx, query, args...).Scan(&file.ID, &file.CreatedAt, &file.UpdatedAt); err != nil {
		return nil, err
	}

	return &file, nil
}

const fileColumns = "id, organization_id, name, encoding, error, started_at, completed_at, raw_count, success_count, failure_count, created_at, updated_at"

func scanFile(row *sql.Row) (*models.File, error) {
	var file models.File
	var encoding, fileError sql.NullString
	err := row.Scan(&file.ID, &file.OrganizationID, &file.Name, &encoding, &fileError,
		&file.StartedAt, &file.CompletedAt, &file.RawCount, &file.SuccessCount, &file.FailureCount,
		&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	file.Encoding = encoding.String
	file.Error = models.FileError(fileError.String)
	return &file, nil
}

func (r *Repository) GetFile(ctx context.Context, fileID int64) (*models.File, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(fileColumns)
	sb.From("files")
	sb.Where(sb.Equal("id", fileID))

	query, args := sb.Build()
	return scanFile(r.QueryRowContext(ctx, query, args...))
}

func (r *Repository) updateFile(ctx context.Context, fileID int64, fieldsAndValues map[string]interface{}) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("files")
	for field, value := range fieldsAndValues {
		ub.SetMore(ub.Assign(field, value))
	}
	ub.SetMore("updated_at = NOW()")
	ub.Where(ub.Equal("id", fileID))

	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("file %d not updated, no row found", fileID)
	}

	return nil
}

func (r *Repository) SetFileStartedAt(ctx context.Context, fileID int64, at time.Time) error {
	return r.updateFile(ctx, fileID, map[string]interface{}{"started_at": at})
}

func (r *Repository) SetFileCompletedAt(ctx context.Context, fileID int64, at time.Time) error {
	return r.updateFile(ctx, fileID, map[string]interface{}{"completed_at": at})
}

func (r *Repository) SetFileEncoding(ctx context.Context, fileID int64, encoding string) error {
	return r.updateFile(ctx, fileID, map[string]interface{}{"encoding": encoding})
}

func (r *Repository) SetFileError(ctx context.Context, fileID int64, fileError models.FileError) error {
	return r.updateFile(ctx, fileID, map[string]interface{}{"error": string(fileError)})
}

func (r *Repository) SetFileCounts(ctx context.Context, fileID int64, raw, success, failure int) error {
	return r.updateFile(ctx, fileID, map[string]interface{}{
		"raw_count":     raw,
		"success_count": success,
		"failure_count": failure,
	})
}

func (r *Repository) GetIncompleteFiles(ctx context.Context) ([]*models.File, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(fileColumns)
	sb.From("files")
	sb.Where(
		sb.IsNotNull("started_at"),
		sb.IsNull("completed_at"),
	)
	sb.OrderBy("id")

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		var file models.File
		var encoding, fileError sql.NullString
		if err := rows.Scan(&file.ID, &file.OrganizationID, &file.Name, &encoding, &fileError,
			&file.StartedAt, &file.CompletedAt, &file.RawCount, &file.SuccessCount, &file.FailureCount,
			&file.CreatedAt, &file.UpdatedAt); err != nil {
			return nil, err
		}
		file.Encoding = encoding.String
		file.Error = models.FileError(fileError.String)
		files = append(files, &file)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return files, nil
}

func marshalBlob(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func marshalAddress(a *models.Address) (interface{}, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}
