package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/havenhealth/eligibility-app/eligibility/models"
)

type RepositoryTestSuite struct {
	suite.Suite
	db   *sql.DB
	mock sqlmock.Sqlmock
	repo *Repository
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}

func (r *RepositoryTestSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	r.NoError(err)
	r.db, r.mock = db, mock
	r.repo = NewRepository(db)
}

func (r *RepositoryTestSuite) TearDownTest() {
	r.NoError(r.mock.ExpectationsWereMet())
	r.db.Close()
}

func (r *RepositoryTestSuite) TestGetConfigurationByDirectory() {
	activated := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	r.mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT organization_id, directory_name, email_domains, data_provider, activated_at, terminated_at, eligibility_type FROM configurations WHERE directory_name = $1`)).
		WithArgs("clientA").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "directory_name", "email_domains", "data_provider", "activated_at", "terminated_at", "eligibility_type"}).
			AddRow(int64(42), "clientA", pq.StringArray{"clienta.com"}, false, activated, nil, "EMPLOYER"))

	cfg, err := r.repo.GetConfigurationByDirectory(context.Background(), "clientA")
	r.NoError(err)
	r.NotNil(cfg)
	assert.Equal(r.T(), int64(42), cfg.OrganizationID)
	assert.Equal(r.T(), []string{"clienta.com"}, cfg.EmailDomains)
	assert.Equal(r.T(), "EMPLOYER", cfg.EligibilityType)
}

func (r *RepositoryTestSuite) TestGetConfigurationByDirectoryNotFound() {
	r.mock.ExpectQuery(regexp.QuoteMeta(`SELECT organization_id`)).
		WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)

	cfg, err := r.repo.GetConfigurationByDirectory(context.Background(), "unknown")
	r.NoError(err)
	r.Nil(cfg)
}

func (r *RepositoryTestSuite) TestGetExternalOrgInfoNotFound() {
	r.mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT organization_id, external_id, source, activated_at FROM external_org_infos WHERE source = $1 AND external_id = $2`)).
		WithArgs("optum", "client1:cust1").
		WillReturnError(sql.ErrNoRows)

	info, err := r.repo.GetExternalOrgInfo(context.Background(), "optum", "client1:cust1")
	r.NoError(err)
	r.Nil(info)
}

func (r *RepositoryTestSuite) TestGetHeaderAliases() {
	r.mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT field_name, alias FROM header_aliases WHERE organization_id = $1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"field_name", "alias"}).
			AddRow("unique_corp_id", "member_number").
			AddRow("date_of_birth", "birth_date"))

	aliases, err := r.repo.GetHeaderAliases(context.Background(), 42)
	r.NoError(err)
	assert.Equal(r.T(), models.HeaderMapping{
		"unique_corp_id": "member_number",
		"date_of_birth":  "birth_date",
	}, aliases)
}

func (r *RepositoryTestSuite) TestCreateFile() {
	created := time.Now()
	r.mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO files (organization_id, name, created_at, updated_at) VALUES ($1, $2, NOW(), NOW()) RETURNING id, created_at, updated_at`)).
		WithArgs(int64(42), "clientA/members.csv").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), created, created))

	file, err := r.repo.CreateFile(context.Background(), 42, "clientA/members.csv")
	r.NoError(err)
	assert.Equal(r.T(), int64(7), file.ID)
	assert.Equal(r.T(), int64(42), file.OrganizationID)
}

func (r *RepositoryTestSuite) TestSetFileCounts() {
	r.mock.ExpectExec(`UPDATE files SET .+ WHERE id = \$\d`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.repo.SetFileCounts(context.Background(), 7, 100, 95, 5)
	r.NoError(err)
}

func (r *RepositoryTestSuite) TestSetFileErrorNoRow() {
	r.mock.ExpectExec(`UPDATE files SET .+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.repo.SetFileError(context.Background(), 99, models.FileErrorMissing)
	r.EqualError(err, "file 99 not updated, no row found")
}

func (r *RepositoryTestSuite) TestPersistParseResults() {
	records := []*models.ParsedRecord{
		{FileID: 7, OrganizationID: 42, FirstName: "Ada", LastName: "Lovelace",
			Email: "ada@clienta.com", UniqueCorpID: "E100", HashValue: "abc", HashVersion: 2,
			DateOfBirth: time.Date(1990, 3, 2, 0, 0, 0, 0, time.UTC)},
	}

	r.mock.ExpectExec(`INSERT INTO parse_results .+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := r.repo.PersistParseResults(context.Background(), records)
	r.NoError(err)
	assert.Equal(r.T(), int64(1), count)
}

func (r *RepositoryTestSuite) TestPersistParseResultsEmpty() {
	count, err := r.repo.PersistParseResults(context.Background(), nil)
	r.NoError(err)
	assert.Zero(r.T(), count)
}

func (r *RepositoryTestSuite) TestDeleteParseErrors() {
	r.mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM parse_errors WHERE file_id = $1`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := r.repo.DeleteParseErrors(context.Background(), 7)
	r.NoError(err)
	assert.Equal(r.T(), int64(3), count)
}

func (r *RepositoryTestSuite) TestFlushFilePromotesAndCompletes() {
	file := &models.File{ID: 7, OrganizationID: 42}

	r.mock.ExpectBegin()
	r.mock.ExpectQuery(regexp.QuoteMeta(`SELECT completed_at FROM files WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"completed_at"}).AddRow(nil))
	r.mock.ExpectExec(`INSERT INTO members .+ ON CONFLICT .+`).
		WillReturnResult(sqlmock.NewResult(0, 95))
	r.mock.ExpectExec(`UPDATE files SET .+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	r.mock.ExpectCommit()

	count, err := r.repo.FlushFile(context.Background(), file)
	r.NoError(err)
	assert.Equal(r.T(), int64(95), count)
}

func (r *RepositoryTestSuite) TestFlushFileAlreadyCompleted() {
	file := &models.File{ID: 7, OrganizationID: 42}

	r.mock.ExpectBegin()
	r.mock.ExpectQuery(regexp.QuoteMeta(`SELECT completed_at FROM files WHERE id = $1 FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"completed_at"}).AddRow(time.Now()))
	r.mock.ExpectCommit()

	count, err := r.repo.FlushFile(context.Background(), file)
	r.NoError(err)
	assert.Zero(r.T(), count)
}

func (r *RepositoryTestSuite) TestGetSuccessCountFromPreviousFile() {
	r.mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT success_count FROM files WHERE organization_id = $1 AND completed_at IS NOT NULL ORDER BY completed_at DESC LIMIT 1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"success_count"}).AddRow(int64(90)))

	count, err := r.repo.GetSuccessCountFromPreviousFile(context.Background(), 42)
	r.NoError(err)
	assert.Equal(r.T(), int64(90), count)
}

func (r *RepositoryTestSuite) TestGetSuccessCountFromPreviousFileNone() {
	r.mock.ExpectQuery(`SELECT success_count FROM files .+`).
		WillReturnError(sql.ErrNoRows)

	count, err := r.repo.GetSuccessCountFromPreviousFile(context.Background(), 42)
	r.NoError(err)
	assert.Zero(r.T(), count)
}

func (r *RepositoryTestSuite) TestExpireMissingMembers() {
	file := &models.File{ID: 7, OrganizationID: 42}
	r.mock.ExpectExec(`UPDATE members SET .+ NOT EXISTS .+`).
		WillReturnResult(sqlmock.NewResult(0, 4))

	count, err := r.repo.ExpireMissingMembers(context.Background(), file)
	r.NoError(err)
	assert.Equal(r.T(), int64(4), count)
}

func (r *RepositoryTestSuite) TestUpsertExternalRecords() {
	records := []*models.ExternalRecordAndAddress{
		{
			Record: &models.ExternalRecord{
				OrganizationID: 42, FirstName: "Ada", LastName: "Lovelace",
				UniqueCorpID: "E100", ExternalID: "client1", Source: "optum",
				HashValue: "abc", HashVersion: 2,
			},
			Address: &models.Address{Address1: "1 Main St", City: "Boston", State: "MA"},
		},
	}

	r.mock.ExpectExec(`INSERT INTO members .+ ON CONFLICT .+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := r.repo.UpsertExternalRecords(context.Background(), records)
	r.NoError(err)
	assert.Equal(r.T(), int64(1), count)
}

func memberRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "organization_id", "file_id", "first_name", "last_name", "email",
		"unique_corp_id", "dependent_id", "date_of_birth", "work_state",
		"effective_range_lower", "effective_range_upper", "do_not_contact", "gender_code", "employer_assigned_id",
		"record", "custom_attributes", "hash_value", "hash_version", "created_at", "updated_at"})
}

func (r *RepositoryTestSuite) TestGetAllByNameAndDateOfBirth() {
	dob := time.Date(1990, 3, 2, 0, 0, 0, 0, time.UTC)
	rows := memberRows().AddRow(int64(1), int64(42), nil, "Ada", "Lovelace", "ada@clienta.com",
		"E100", "", dob, "MA",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), nil, "False", "F", "",
		[]byte(`{"lob":"tech"}`), []byte(`{}`), "abc", 2, time.Now(), time.Now())

	r.mock.ExpectQuery(`SELECT .+ FROM members WHERE .+LOWER\(first_name\) = \$\d.+`).
		WillReturnRows(rows)

	members, err := r.repo.GetAllByNameAndDateOfBirth(context.Background(), models.MemberV1, "Ada", "Lovelace", dob)
	r.NoError(err)
	r.Len(members, 1)
	assert.Equal(r.T(), "E100", members[0].UniqueCorpID)
	assert.Equal(r.T(), models.MemberV1, members[0].Version)
	assert.Equal(r.T(), "tech", members[0].Record["lob"])
	r.NotNil(members[0].EffectiveRange)
	r.Nil(members[0].EffectiveRange.Upper)
}

func (r *RepositoryTestSuite) TestGetByDOBAndEmailUsesV2Table() {
	dob := time.Date(1990, 3, 2, 0, 0, 0, 0, time.UTC)
	r.mock.ExpectQuery(`SELECT .+ FROM members_v2 WHERE .+`).
		WillReturnRows(memberRows())

	member, err := r.repo.GetByDOBAndEmail(context.Background(), models.MemberV2, dob, "ada@clienta.com")
	r.NoError(err)
	r.Nil(member)
}
