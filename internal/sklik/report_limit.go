package sklik

import (
	"fmt"
	"math"
	"time"
)

// granularityUnitDays maps a statGranularity to the length of one reporting
// period in calendar days. Months are standardized to 28 days and quarters to
// 84 the same way the server buckets them.
var granularityUnitDays = map[string]float64{
	"daily":     1,
	"weekly":    7,
	"monthly":   28,
	"quarterly": 84,
}

const fallbackUnitDays = 365

// GetReportLimit computes how many entities one readReport page may request so
// that entities × periods stays under the server's listing limit. Without a
// granularity the report has one row per entity and the raw limit applies.
func GetReportLimit(dateFrom, dateTo string, listLimit int, granularity string) (int, error) {
	if granularity == "" {
		return listLimit, nil
	}

	from, err := time.Parse("2006-01-02", dateFrom)
	if err != nil {
		return 0, apiError(KindValidation, fmt.Sprintf("date %q is not a valid YYYY-MM-DD date", dateFrom), "", nil, 0, nil)
	}
	to, err := time.Parse("2006-01-02", dateTo)
	if err != nil {
		return 0, apiError(KindValidation, fmt.Sprintf("date %q is not a valid YYYY-MM-DD date", dateTo), "", nil, 0, nil)
	}

	numberOfDays := math.Abs(to.Sub(from).Hours() / 24)
	unitDays, ok := granularityUnitDays[granularity]
	if !ok {
		unitDays = fallbackUnitDays
	}

	numberOfUnits := numberOfDays / unitDays
	if numberOfUnits < 1 {
		numberOfUnits = 1
	}

	limit := int(math.Floor(float64(listLimit) / numberOfUnits))
	if limit < 1 {
		return 0, apiError(KindValidation, "Data limit exceeded. Decrease date interval or granularity.", "", nil, 0, nil)
	}
	return limit, nil
}
