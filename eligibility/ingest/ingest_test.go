package ingest

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/havenhealth/eligibility-app/eligibility/cache"
	"github.com/havenhealth/eligibility-app/eligibility/featureflag"
	"github.com/havenhealth/eligibility-app/eligibility/models"
	"github.com/havenhealth/eligibility-app/eligibility/orgconfig"
	"github.com/havenhealth/eligibility-app/eligibility/pubsub"
)

type fakeConfigRepo struct {
	directories map[string]*models.Configuration
}

func (f *fakeConfigRepo) GetConfigurationByDirectory(ctx context.Context, directory string) (*models.Configuration, error) {
	return f.directories[directory], nil
}

func (f *fakeConfigRepo) GetConfigurationByID(ctx context.Context, organizationID int64) (*models.Configuration, error) {
	return nil, nil
}

func (f *fakeConfigRepo) GetHeaderAliases(ctx context.Context, organizationID int64) (models.HeaderMapping, error) {
	return nil, nil
}

func (f *fakeConfigRepo) GetExternalOrgInfo(ctx context.Context, source, externalID string) (*models.ExternalOrgInfo, error) {
	return nil, nil
}

func (f *fakeConfigRepo) GetCustomAttributes(ctx context.Context, organizationID int64) (map[string]string, error) {
	return nil, nil
}

type fakeFileRepo struct {
	nextID    int64
	files     map[int64]*models.File
	errorsSet map[int64]models.FileError
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{files: map[int64]*models.File{}, errorsSet: map[int64]models.FileError{}}
}

func (f *fakeFileRepo) CreateFile(ctx context.Context, organizationID int64, name string) (*models.File, error) {
	f.nextID++
	file := &models.File{ID: f.nextID, OrganizationID: organizationID, Name: name}
	f.files[file.ID] = file
	return file, nil
}

func (f *fakeFileRepo) GetFile(ctx context.Context, fileID int64) (*models.File, error) {
	return f.files[fileID], nil
}

func (f *fakeFileRepo) SetFileStartedAt(ctx context.Context, fileID int64, at time.Time) error {
	f.files[fileID].StartedAt = &at
	return nil
}

func (f *fakeFileRepo) SetFileCompletedAt(ctx context.Context, fileID int64, at time.Time) error {
	f.files[fileID].CompletedAt = &at
	return nil
}

func (f *fakeFileRepo) SetFileEncoding(ctx context.Context, fileID int64, encoding string) error {
	f.files[fileID].Encoding = encoding
	return nil
}

func (f *fakeFileRepo) SetFileError(ctx context.Context, fileID int64, fileError models.FileError) error {
	f.errorsSet[fileID] = fileError
	f.files[fileID].Error = fileError
	return nil
}

func (f *fakeFileRepo) SetFileCounts(ctx context.Context, fileID int64, raw, success, failure int) error {
	file := f.files[fileID]
	file.RawCount, file.SuccessCount, file.FailureCount = raw, success, failure
	return nil
}

func (f *fakeFileRepo) GetIncompleteFiles(ctx context.Context) ([]*models.File, error) {
	return nil, nil
}

type staticFetcher struct {
	data map[string][]byte
	err  error
}

func (s *staticFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data[name], nil
}

type IngestTestSuite struct {
	suite.Suite
	files    *fakeFileRepo
	fetcher  *staticFetcher
	queue    *pubsub.MemoryQueue
	counters *cache.MemoryCounterStore
	service  *Service
}

func TestIngestTestSuite(t *testing.T) {
	suite.Run(t, new(IngestTestSuite))
}

func (s *IngestTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	orgs := orgconfig.New(&fakeConfigRepo{directories: map[string]*models.Configuration{
		"clienta":  {OrganizationID: 42, DirectoryName: "clienta"},
		"provider": {OrganizationID: 100, DirectoryName: "provider", DataProvider: true},
	}}, logger)

	s.files = newFakeFileRepo()
	s.fetcher = &staticFetcher{data: map[string][]byte{}}
	s.queue = pubsub.NewMemoryQueue()
	s.counters = cache.NewMemoryCounterStore()
	s.service = &Service{
		Files:    s.files,
		Orgs:     orgs,
		Fetcher:  s.fetcher,
		Queue:    s.queue,
		Counters: s.counters,
		Flags:    featureflag.Static{},
		Logger:   logger,
	}
}

func (s *IngestTestSuite) TestProcessFile() {
	s.fetcher.data["clienta/members.csv"] = []byte(
		"employee_id,employee_first_name,employee_last_name,email,date_of_birth\n" +
			"E100,Ada,Lovelace,ada@clienta.com,03/02/1990\n" +
			"E101,Grace,Hopper,grace@clienta.com,12/09/1906\n")

	require.NoError(s.T(), s.service.ProcessFile(context.Background(), "clienta/members.csv"))

	messages, err := s.queue.Receive(context.Background(), 10)
	require.NoError(s.T(), err)
	require.Len(s.T(), messages, 2)

	var first models.UnprocessedMessage
	require.NoError(s.T(), messages[0].Decode(&first))
	assert.Equal(s.T(), int64(42), first.Metadata.OrganizationID)
	assert.Equal(s.T(), 0, first.Metadata.Index)
	assert.Equal(s.T(), models.IngestionTypeFile, first.Metadata.Type)
	assert.Equal(s.T(), "E100", first.Record["unique_corp_id"])
	assert.Equal(s.T(), "Ada", first.Record["first_name"])

	total, err := s.counters.Get(context.Background(), 1, "num_rows")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2), total)

	file := s.files.files[1]
	assert.NotNil(s.T(), file.StartedAt)
	assert.Equal(s.T(), "utf-8", file.Encoding)
}

func (s *IngestTestSuite) TestProcessFileIgnoresDirectoryNotice() {
	require.NoError(s.T(), s.service.ProcessFile(context.Background(), "clienta/"))
	assert.Empty(s.T(), s.files.files)
	assert.Zero(s.T(), s.queue.Depth())
}

func (s *IngestTestSuite) TestProcessFileSkipsDataProviderParentFile() {
	s.service.Flags = featureflag.Static{ParentFileSplit: true}
	s.fetcher.data["provider/members.csv"] = []byte("employee_id,client_id\nE100,sub1\n")

	require.NoError(s.T(), s.service.ProcessFile(context.Background(), "provider/members.csv"))
	assert.Empty(s.T(), s.files.files)
	assert.Zero(s.T(), s.queue.Depth())
}

func (s *IngestTestSuite) TestProcessFileUnknownDirectory() {
	require.NoError(s.T(), s.service.ProcessFile(context.Background(), "stranger/members.csv"))
	assert.Empty(s.T(), s.files.files)
	assert.Zero(s.T(), s.queue.Depth())
}

func (s *IngestTestSuite) TestProcessFileEmpty() {
	s.fetcher.data["clienta/members.csv"] = nil

	require.NoError(s.T(), s.service.ProcessFile(context.Background(), "clienta/members.csv"))
	assert.Equal(s.T(), models.FileErrorMissing, s.files.errorsSet[1])
}

func (s *IngestTestSuite) TestProcessFileFetchFails() {
	s.fetcher.err = errors.New("bucket unavailable")

	require.NoError(s.T(), s.service.ProcessFile(context.Background(), "clienta/members.csv"))
	assert.Equal(s.T(), models.FileErrorMissing, s.files.errorsSet[1])
}

func (s *IngestTestSuite) TestProcessFileBadDelimiter() {
	s.fetcher.data["clienta/members.csv"] = []byte(
		"employee_id;employee_first_name\nE100;Ada\n")

	require.NoError(s.T(), s.service.ProcessFile(context.Background(), "clienta/members.csv"))
	assert.Equal(s.T(), models.FileErrorDelimiter, s.files.errorsSet[1])
}

func TestParseS3Uri(t *testing.T) {
	bucket, key := ParseS3Uri("s3://census-bucket/clienta/members.csv")
	assert.Equal(t, "census-bucket", bucket)
	assert.Equal(t, "clienta/members.csv", key)

	bucket, key = ParseS3Uri("s3://census-bucket")
	assert.Equal(t, "census-bucket", bucket)
	assert.Equal(t, "", key)
}

func TestUploadDirectory(t *testing.T) {
	assert.Equal(t, "clienta", uploadDirectory("clienta/members.csv"))
	assert.Equal(t, "clienta", uploadDirectory("s3://clienta/members.csv"))
	assert.Equal(t, "orphan", uploadDirectory("orphan"))
}

func TestDetectEncoding(t *testing.T) {
	assert.Equal(t, "utf-8", DetectEncoding([]byte("plain,data\n")))
	assert.Equal(t, "utf-8", DetectEncoding([]byte{0xEF, 0xBB, 0xBF, 'a'}))
	assert.Equal(t, "utf-16", DetectEncoding([]byte{0xFF, 0xFE, 'a', 0x00}))
}
