package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"parameters": {
			"#token": "api-token",
			"accounts": "123, 456",
			"limit": 50,
			"reports": [
				{
					"name": "campaigns",
					"resource": "campaigns",
					"restrictionFilter": "{\"dateFrom\": \"2018-01-01\", \"dateTo\": \"2018-01-31\"}",
					"displayOptions": "{\"statGranularity\": \"daily\"}",
					"displayColumns": "name, clicks , impressions",
					"skip": 10,
					"totalLimit": 100,
					"allowedUserIDs": [123],
					"allowEmptyStatistics": false
				}
			]
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "api-token", cfg.Token)
	assert.True(t, cfg.UsesTokenLogin())
	assert.Equal(t, []int64{123, 456}, cfg.Accounts)
	assert.Equal(t, 50, cfg.Limit)

	require.Len(t, cfg.Reports, 1)
	report := cfg.Reports[0]
	assert.Equal(t, "campaigns", report.Name)
	assert.Equal(t, "campaigns", report.Resource)
	assert.Equal(t, map[string]interface{}{"dateFrom": "2018-01-01", "dateTo": "2018-01-31"}, report.RestrictionFilter)
	assert.Equal(t, "daily", report.StatGranularity())
	assert.Equal(t, []string{"name", "clicks", "impressions"}, report.DisplayColumns)
	assert.Equal(t, 10, report.Skip)
	assert.Equal(t, 100, report.TotalLimit)
	assert.Equal(t, []int64{123}, report.AllowedUserIDs)
	assert.False(t, report.AllowEmptyStatistics)
}

func TestParse_defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"parameters": {
			"username": "user@example.com",
			"#password": "secret",
			"reports": [{"name": "campaigns", "resource": "campaigns"}]
		}
	}`))
	require.NoError(t, err)

	assert.False(t, cfg.UsesTokenLogin())
	assert.Empty(t, cfg.Accounts)

	report := cfg.Reports[0]
	assert.True(t, report.AllowEmptyStatistics)
	assert.Empty(t, report.StatGranularity())
	assert.Equal(t, "-1 day", report.RestrictionFilter["dateFrom"])
	assert.Equal(t, "-1 day", report.RestrictionFilter["dateTo"])
}

func TestParse_missingCredentials(t *testing.T) {
	_, err := Parse([]byte(`{
		"parameters": {
			"username": "user@example.com",
			"reports": [{"name": "campaigns", "resource": "campaigns"}]
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either #token or username and #password must be set")
}

func TestParse_missingReports(t *testing.T) {
	_, err := Parse([]byte(`{"parameters": {"#token": "api-token", "reports": []}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestParse_reportMissingResource(t *testing.T) {
	_, err := Parse([]byte(`{
		"parameters": {"#token": "api-token", "reports": [{"name": "campaigns"}]}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestParse_malformedFilterJSON(t *testing.T) {
	_, err := Parse([]byte(`{
		"parameters": {
			"#token": "api-token",
			"reports": [{"name": "campaigns", "resource": "campaigns", "restrictionFilter": "{broken"}]
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `report "campaigns" has malformed restrictionFilter JSON`)
}

func TestParse_invalidAccountID(t *testing.T) {
	_, err := Parse([]byte(`{
		"parameters": {
			"#token": "api-token",
			"accounts": "123, abc",
			"reports": [{"name": "campaigns", "resource": "campaigns"}]
		}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid account ID "abc"`)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"parameters": {"#token": "api-token", "reports": [{"name": "campaigns", "resource": "campaigns"}]}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "api-token", cfg.Token)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
