// Package config decodes the Keboola-style JSON configuration consumed by the
// extractor and exposes typed accessors for credentials, account filters and
// report definitions.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/keboola/sklik-extractor/internal/validators"
)

// ReportDefinition is one configured report, immutable per run.
type ReportDefinition struct {
	Name                 string
	Resource             string
	RestrictionFilter    map[string]interface{}
	DisplayOptions       map[string]interface{}
	DisplayColumns       []string
	Limit                int
	Skip                 int
	TotalLimit           int
	AllowedUserIDs       []int64
	AllowEmptyStatistics bool
}

// StatGranularity returns the configured time-bucketing unit, empty when the
// report has one row per entity instead of per period.
func (r ReportDefinition) StatGranularity() string {
	if g, ok := r.DisplayOptions["statGranularity"].(string); ok {
		return g
	}
	return ""
}

// Config is the decoded run configuration.
type Config struct {
	Token    string
	Username string
	Password string
	// Accounts restricts extraction to the listed account IDs; empty means
	// all accounts visible to the credential.
	Accounts []int64
	Reports  []ReportDefinition
	// Limit overrides the computed batch size globally when non-zero.
	Limit int
}

// UsesTokenLogin reports which login method the credential set selects.
func (c *Config) UsesTokenLogin() bool {
	return c.Token != ""
}

type rawReport struct {
	Name                 string  `json:"name" validate:"required"`
	Resource             string  `json:"resource" validate:"required"`
	RestrictionFilter    string  `json:"restrictionFilter"`
	DisplayOptions       string  `json:"displayOptions"`
	DisplayColumns       string  `json:"displayColumns"`
	Limit                int     `json:"limit" validate:"gte=0"`
	Skip                 int     `json:"skip" validate:"gte=0"`
	TotalLimit           int     `json:"totalLimit" validate:"gte=0"`
	AllowedUserIDs       []int64 `json:"allowedUserIDs"`
	AllowEmptyStatistics *bool   `json:"allowEmptyStatistics"`
}

type rawParameters struct {
	Token    string      `json:"#token"`
	Username string      `json:"username"`
	Password string      `json:"#password"`
	Accounts string      `json:"accounts"`
	Reports  []rawReport `json:"reports" validate:"required,min=1,dive"`
	Limit    int         `json:"limit" validate:"gte=0"`
}

type rawConfig struct {
	Parameters rawParameters `json:"parameters" validate:"required"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Parse(contents)
}

// Parse decodes and validates configuration JSON.
func Parse(contents []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(contents, &raw); err != nil {
		return nil, fmt.Errorf("decoding config JSON: %w", err)
	}

	validate := validators.NewValidator()
	if err := validate.Struct(raw); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			return nil, fmt.Errorf("invalid configuration: %s", validators.FormatValidationError(vErrs))
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	params := raw.Parameters
	if params.Token == "" && (params.Username == "" || params.Password == "") {
		return nil, fmt.Errorf("invalid configuration: either #token or username and #password must be set")
	}

	cfg := &Config{
		Token:    params.Token,
		Username: params.Username,
		Password: params.Password,
		Limit:    params.Limit,
	}

	accounts, err := parseAccounts(params.Accounts)
	if err != nil {
		return nil, err
	}
	cfg.Accounts = accounts

	for _, r := range params.Reports {
		report, err := parseReport(r)
		if err != nil {
			return nil, err
		}
		cfg.Reports = append(cfg.Reports, report)
	}

	return cfg, nil
}

func parseAccounts(accounts string) ([]int64, error) {
	if strings.TrimSpace(accounts) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(accounts, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid account ID %q in accounts list", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseReport(r rawReport) (ReportDefinition, error) {
	report := ReportDefinition{
		Name:                 r.Name,
		Resource:             r.Resource,
		Limit:                r.Limit,
		Skip:                 r.Skip,
		TotalLimit:           r.TotalLimit,
		AllowedUserIDs:       r.AllowedUserIDs,
		AllowEmptyStatistics: true,
	}
	if r.AllowEmptyStatistics != nil {
		report.AllowEmptyStatistics = *r.AllowEmptyStatistics
	}

	report.RestrictionFilter = map[string]interface{}{}
	if strings.TrimSpace(r.RestrictionFilter) != "" {
		if err := json.Unmarshal([]byte(r.RestrictionFilter), &report.RestrictionFilter); err != nil {
			return ReportDefinition{}, fmt.Errorf("report %q has malformed restrictionFilter JSON: %w", r.Name, err)
		}
	}

	report.DisplayOptions = map[string]interface{}{}
	if strings.TrimSpace(r.DisplayOptions) != "" {
		if err := json.Unmarshal([]byte(r.DisplayOptions), &report.DisplayOptions); err != nil {
			return ReportDefinition{}, fmt.Errorf("report %q has malformed displayOptions JSON: %w", r.Name, err)
		}
	}

	if strings.TrimSpace(r.DisplayColumns) != "" {
		for _, col := range strings.Split(r.DisplayColumns, ",") {
			if col = strings.TrimSpace(col); col != "" {
				report.DisplayColumns = append(report.DisplayColumns, col)
			}
		}
	}

	// An incomplete date range defaults to yesterday.
	if _, ok := report.RestrictionFilter["dateFrom"]; !ok {
		report.RestrictionFilter["dateFrom"] = "-1 day"
	}
	if _, ok := report.RestrictionFilter["dateTo"]; !ok {
		report.RestrictionFilter["dateTo"] = "-1 day"
	}

	return report, nil
}
