// Package extractor drives the extraction run: it lists accounts, creates one
// report job per account and report definition, pages through the report and
// hands normalized rows to storage.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keboola/sklik-extractor/internal/apptracker"
	"github.com/keboola/sklik-extractor/internal/config"
	"github.com/keboola/sklik-extractor/internal/entities"
	"github.com/keboola/sklik-extractor/internal/metrics"
	"github.com/keboola/sklik-extractor/internal/sklik"
)

const accountsTable = "accounts"

var accountsColumns = []string{
	"userId", "username", "access", "relationName", "relationStatus",
	"relationType", "walletCredit", "walletCreditWithVat", "walletVerified",
	"accountLimit", "dayBudgetSum",
}

// API is the subset of the Sklik client the extractor drives.
type API interface {
	GetAccounts(ctx context.Context) ([]entities.Account, error)
	GetListLimit(ctx context.Context) (int, error)
	CreateReport(ctx context.Context, resource string, userID int64, restrictionFilter, displayOptions map[string]interface{}) (entities.ReportJob, error)
	ReadReport(ctx context.Context, resource, reportID string, allowEmptyStatistics bool, displayColumns []string, offset, limit int) ([]entities.RawReportRow, error)
}

// Storage receives normalized rows, one table per entity shape.
type Storage interface {
	AddTable(name string, columns, primary []string)
	HasTable(name string) bool
	Save(table string, values map[string]interface{}) error
}

type Extractor struct {
	api            API
	storage        Storage
	logger         *logrus.Logger
	appTracker     apptracker.AppTracker
	metricsService metrics.MetricsService
	nowFn          func() time.Time
	sleepFn        func(time.Duration)
}

func NewExtractor(api API, storage Storage, logger *logrus.Logger, appTracker apptracker.AppTracker, metricsService metrics.MetricsService) (*Extractor, error) {
	if api == nil {
		return nil, fmt.Errorf("api cannot be nil")
	}
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if appTracker == nil {
		return nil, fmt.Errorf("app tracker cannot be nil")
	}
	if metricsService == nil {
		return nil, fmt.Errorf("metrics service cannot be nil")
	}
	return &Extractor{
		api:            api,
		storage:        storage,
		logger:         logger,
		appTracker:     appTracker,
		metricsService: metricsService,
		nowFn:          time.Now,
		sleepFn:        time.Sleep,
	}, nil
}

// Run performs the whole extraction pass. Reports run sequentially per
// account; any report failure aborts the run so a partial extraction is never
// mistaken for a complete one.
func (e *Extractor) Run(ctx context.Context, cfg *config.Config) error {
	listLimit, err := e.api.GetListLimit(ctx)
	if err != nil {
		return fmt.Errorf("getting listing limit: %w", err)
	}

	accounts, err := e.api.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("getting accounts: %w", err)
	}

	for _, account := range accounts {
		if len(cfg.Accounts) > 0 && !containsID(cfg.Accounts, account.UserID) {
			continue
		}
		if err := e.saveAccount(account); err != nil {
			return fmt.Errorf("saving account %d: %w", account.UserID, err)
		}
		for _, report := range cfg.Reports {
			if err := e.extractReport(ctx, account, report, cfg.Limit, listLimit); err != nil {
				e.appTracker.CaptureException(err)
				return fmt.Errorf("extracting report %q for account %d: %w", report.Name, account.UserID, err)
			}
		}
	}
	return nil
}

func (e *Extractor) saveAccount(account entities.Account) error {
	if !e.storage.HasTable(accountsTable) {
		e.storage.AddTable(accountsTable, accountsColumns, []string{"userId"})
	}
	encoded, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encoding account: %w", err)
	}
	var row map[string]interface{}
	if err := json.Unmarshal(encoded, &row); err != nil {
		return fmt.Errorf("decoding account row: %w", err)
	}
	return e.storage.Save(accountsTable, row)
}

func (e *Extractor) extractReport(ctx context.Context, account entities.Account, report config.ReportDefinition, globalLimit, listLimit int) error {
	if len(report.AllowedUserIDs) > 0 && !containsID(report.AllowedUserIDs, account.UserID) {
		e.logger.Infof("Skipping user ID \"#%d\".", account.UserID)
		return nil
	}

	restrictionFilter, dateFrom, dateTo, err := e.resolveRestrictionFilter(report.RestrictionFilter)
	if err != nil {
		return err
	}

	primary := "id"
	if report.Resource == "queries" {
		primary = "query"
	}
	displayColumns := report.DisplayColumns
	if !containsString(displayColumns, primary) {
		displayColumns = append(append([]string{}, displayColumns...), primary)
	}

	e.logger.WithFields(logrus.Fields{
		"resource": report.Resource,
		"username": account.Username,
		"userId":   account.UserID,
	}).Infof("Creating report from %s to %s.", dateFrom, dateTo)

	job, err := e.api.CreateReport(ctx, report.Resource, account.UserID, restrictionFilter, report.DisplayOptions)
	if err != nil {
		return err
	}

	limit, err := e.batchSize(report, globalLimit, listLimit, dateFrom, dateTo)
	if err != nil {
		return err
	}
	e.metricsService.ObserveBatchSize(report.Resource, limit)
	e.logger.Infof("Created report %q. Batch size set to \"%d\".", job.ReportID, limit)

	return e.readAll(ctx, account, report, job, displayColumns, primary, limit)
}

// readAll pages through one report job. Pages advance by the amount actually
// requested; a rate-limited page is retried at the same offset after the wait
// the server dictated.
func (e *Extractor) readAll(ctx context.Context, account entities.Account, report config.ReportDefinition, job entities.ReportJob, displayColumns []string, primary string, limit int) error {
	offset := report.Skip
	start := offset
	lastRecord := 0
	if report.TotalLimit > 0 {
		lastRecord = report.Skip + report.TotalLimit
	}

	e.logger.Infof("Reading records from %d, %d records per batch.", start, limit)

	batch := 0
	lastLogAt := e.nowFn()
	for {
		pageLimit := limit
		if lastRecord > 0 && offset+pageLimit > lastRecord {
			pageLimit = lastRecord - offset
		}
		if pageLimit <= 0 {
			break
		}

		batch++
		if now := e.nowFn(); now.Sub(lastLogAt) >= time.Minute {
			e.logger.Infof("Records <%d;%d> of resource %q have been read so far.", start, offset, report.Resource)
			lastLogAt = now
		}

		rows, err := e.api.ReadReport(ctx, report.Resource, job.ReportID, report.AllowEmptyStatistics, displayColumns, offset, pageLimit)
		if err != nil {
			var apiErr *sklik.Error
			if errors.As(err, &apiErr) && apiErr.Kind == sklik.KindRateLimited {
				e.logger.Warnf("Rate limited on batch %d of resource %q, waiting %s.", batch, report.Resource, apiErr.Wait)
				e.sleepFn(apiErr.Wait)
				batch--
				continue
			}
			e.logger.WithFields(logrus.Fields{
				"batch":    batch,
				"from":     offset,
				"to":       offset + pageLimit,
				"resource": report.Resource,
				"username": account.Username,
				"userId":   account.UserID,
			}).Error("Reading report batch failed.")
			return fmt.Errorf("reading batch %d <%d;%d>: %w", batch, offset, offset+pageLimit, err)
		}

		for _, raw := range rows {
			for _, row := range normalizeRow(report.Name, raw, account.UserID, primary) {
				if !e.storage.HasTable(row.Table) {
					e.storage.AddTable(row.Table, row.Columns, row.PrimaryKey)
				}
				if err := e.storage.Save(row.Table, row.Values); err != nil {
					return fmt.Errorf("saving row of table %q: %w", row.Table, err)
				}
				e.metricsService.IncRowsExtracted(row.Table, 1)
			}
		}

		offset += pageLimit
		if len(rows) == 0 {
			break
		}
		if lastRecord > 0 && offset >= lastRecord {
			break
		}
		if job.TotalCount > 0 && offset >= job.TotalCount {
			break
		}
	}

	e.logger.Infof("Records <%d;%d> of resource %q have been read.", start, offset, report.Resource)
	return nil
}

// resolveRestrictionFilter copies the configured filter and normalizes its
// date bounds, which may be relative expressions.
func (e *Extractor) resolveRestrictionFilter(filter map[string]interface{}) (map[string]interface{}, string, string, error) {
	resolved := make(map[string]interface{}, len(filter)+2)
	for k, v := range filter {
		resolved[k] = v
	}
	now := e.nowFn()

	dateFrom, err := formatDate(stringOrEmpty(resolved["dateFrom"]), now)
	if err != nil {
		return nil, "", "", err
	}
	dateTo, err := formatDate(stringOrEmpty(resolved["dateTo"]), now)
	if err != nil {
		return nil, "", "", err
	}
	resolved["dateFrom"] = dateFrom
	resolved["dateTo"] = dateTo
	return resolved, dateFrom, dateTo, nil
}

// batchSize picks the page size: per-report override, then the global
// override, then the computed limit derived from the listing limit and the
// report's time span.
func (e *Extractor) batchSize(report config.ReportDefinition, globalLimit, listLimit int, dateFrom, dateTo string) (int, error) {
	if report.Limit > 0 {
		return report.Limit, nil
	}
	if globalLimit > 0 {
		return globalLimit, nil
	}
	return sklik.GetReportLimit(dateFrom, dateTo, listLimit, report.StatGranularity())
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}

func stringOrEmpty(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}
