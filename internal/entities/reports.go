package entities

// ReportJob is the server-side handle returned by <resource>.createReport. It
// lives for one pagination pass and is never reused across accounts or reports.
type ReportJob struct {
	ReportID string `json:"reportId"`
	// TotalCount is reported by newer API generations; zero means the server
	// did not surface it and pagination relies on the empty-page signal.
	TotalCount int `json:"totalCount"`
}

// RawReportRow is one row of a readReport page. Rows are heterogeneous maps
// keyed by displayColumns, possibly holding a nested stats array, repeated
// sub-entity arrays and nested scalar objects.
type RawReportRow = map[string]interface{}

// BatchCallLimit is one entry of the api.limits listing.
type BatchCallLimit struct {
	Name  string `json:"name"`
	Limit int    `json:"limit"`
}

// GlobalListLimitName identifies the listing limit relevant for report paging.
const GlobalListLimitName = "global.list"
