package featureflag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/havenhealth/eligibility-app/conf"
)

func TestNewFromEnv(t *testing.T) {
	conf.SetEnv(t, "ELIGIBILITY_V2_ORGS", "100, 250")
	conf.SetEnv(t, "ELIGIBILITY_PARALLEL_QUERY_ENABLED", "true")
	conf.SetEnv(t, "ELIGIBILITY_WRITE_DISABLED", "false")
	conf.SetEnv(t, "ELIGIBILITY_OVERELIGIBILITY_ORGS", "250")
	defer func() {
		conf.UnsetEnv(t, "ELIGIBILITY_V2_ORGS")
		conf.UnsetEnv(t, "ELIGIBILITY_PARALLEL_QUERY_ENABLED")
		conf.UnsetEnv(t, "ELIGIBILITY_WRITE_DISABLED")
		conf.UnsetEnv(t, "ELIGIBILITY_OVERELIGIBILITY_ORGS")
	}()

	flags := NewFromEnv()
	assert.True(t, flags.IsV2Enabled(100))
	assert.True(t, flags.IsV2Enabled(250))
	assert.False(t, flags.IsV2Enabled(999))
	assert.True(t, flags.IsParallelQueryEnabled())
	assert.False(t, flags.IsWriteDisabled())
	assert.False(t, flags.IsOptumLoggingEnabled())
	assert.True(t, flags.OvereligibilityOrgs()[250])
}

func TestV2AllOrgs(t *testing.T) {
	conf.SetEnv(t, "ELIGIBILITY_V2_ORGS", "all")
	defer conf.UnsetEnv(t, "ELIGIBILITY_V2_ORGS")

	flags := NewFromEnv()
	assert.True(t, flags.IsV2Enabled(1))
	assert.True(t, flags.IsV2Enabled(123456))
}

func TestStaticFlags(t *testing.T) {
	flags := Static{V2Orgs: map[int64]bool{7: true}, ParallelQuery: true}
	assert.True(t, flags.IsV2Enabled(7))
	assert.False(t, flags.IsV2Enabled(8))
	assert.True(t, flags.IsParallelQueryEnabled())
	assert.False(t, flags.IsWriteDisabled())
}
