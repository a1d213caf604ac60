package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/sklik-extractor/internal/entities"
)

func TestNormalizeRow_statsFanOut(t *testing.T) {
	raw := entities.RawReportRow{
		"id":   float64(123),
		"name": "Campaign 1",
		"budget": map[string]interface{}{
			"name": "Budget 1",
		},
		"stats": []interface{}{
			map[string]interface{}{"clicks": float64(10), "impressions": float64(100)},
			map[string]interface{}{"clicks": float64(20), "impressions": float64(200), "date": "2018-01-02"},
		},
	}

	rows := normalizeRow("report1", raw, 1, "id")
	require.Len(t, rows, 3)

	// stats rows come first, the parent row last
	stat1, stat2, parent := rows[0], rows[1], rows[2]

	assert.Equal(t, "report1-stats", stat1.Table)
	assert.Equal(t, []string{"id", "date"}, stat1.PrimaryKey)
	assert.Equal(t, []string{"id", "clicks", "date", "impressions"}, stat1.Columns)
	assert.Equal(t, float64(123), stat1.Values["id"])
	assert.Nil(t, stat1.Values["date"])
	assert.Equal(t, float64(10), stat1.Values["clicks"])

	assert.Equal(t, "2018-01-02", stat2.Values["date"])
	assert.Equal(t, float64(20), stat2.Values["clicks"])

	assert.Equal(t, "report1", parent.Table)
	assert.Equal(t, []string{"id"}, parent.PrimaryKey)
	assert.Equal(t, []string{"id", "accountId", "budget_name", "name"}, parent.Columns)
	assert.Equal(t, float64(123), parent.Values["id"])
	assert.Equal(t, int64(1), parent.Values["accountId"])
	assert.Equal(t, "Budget 1", parent.Values["budget_name"])
}

func TestNormalizeRow_statsNestedDevice(t *testing.T) {
	raw := entities.RawReportRow{
		"id": float64(5),
		"stats": []interface{}{
			map[string]interface{}{
				"date":          "2018-01-01",
				"deviceDesktop": map[string]interface{}{"clicks": float64(7)},
			},
		},
	}

	rows := normalizeRow("report1", raw, 1, "id")
	require.Len(t, rows, 2)

	stat := rows[0]
	assert.Equal(t, []string{"id", "date", "deviceDesktop_clicks"}, stat.Columns)
	assert.Equal(t, float64(7), stat.Values["deviceDesktop_clicks"])
}

func TestNormalizeRow_queriesPrimary(t *testing.T) {
	raw := entities.RawReportRow{
		"query":   "red shoes",
		"keyword": map[string]interface{}{"id": float64(9)},
		"group":   map[string]interface{}{"name": "Group 1"},
	}

	rows := normalizeRow("queries", raw, 2, "query")
	require.Len(t, rows, 1)

	parent := rows[0]
	assert.Equal(t, "queries", parent.Table)
	assert.Equal(t, []string{"query"}, parent.PrimaryKey)
	assert.Equal(t, []string{"query", "accountId", "group_name", "keyword_id"}, parent.Columns)
	assert.Equal(t, "red shoes", parent.Values["query"])
	assert.Equal(t, int64(2), parent.Values["accountId"])
	assert.Equal(t, float64(9), parent.Values["keyword_id"])
}

func TestNormalizeRow_subEntityArray(t *testing.T) {
	raw := entities.RawReportRow{
		"id": float64(1),
		"regions": []interface{}{
			map[string]interface{}{"id": float64(5), "name": "Praha"},
			map[string]interface{}{"id": float64(6), "name": "Brno"},
		},
	}

	rows := normalizeRow("report1", raw, 1, "id")
	require.Len(t, rows, 3)

	region := rows[0]
	assert.Equal(t, "report1-regions", region.Table)
	// the sub-entity keeps its own id, the parent key moves to parentId
	assert.Equal(t, []string{"parentId", "id"}, region.PrimaryKey)
	assert.Equal(t, []string{"parentId", "id", "name"}, region.Columns)
	assert.Equal(t, float64(1), region.Values["parentId"])
	assert.Equal(t, float64(5), region.Values["id"])
	assert.Equal(t, "Praha", region.Values["name"])

	parent := rows[2]
	assert.Equal(t, []string{"id", "accountId"}, parent.Columns)
}

func TestNormalizeRow_scalarArrayFlattensInPlace(t *testing.T) {
	raw := entities.RawReportRow{
		"id":     float64(1),
		"labels": []interface{}{"a", "b"},
	}

	rows := normalizeRow("report1", raw, 1, "id")
	require.Len(t, rows, 1)

	parent := rows[0]
	assert.Equal(t, []string{"id", "accountId", "labels_0", "labels_1"}, parent.Columns)
	assert.Equal(t, "a", parent.Values["labels_0"])
	assert.Equal(t, "b", parent.Values["labels_1"])
}

func TestNormalizeRow_deeplyNestedObject(t *testing.T) {
	raw := entities.RawReportRow{
		"id": float64(1),
		"campaign": map[string]interface{}{
			"budget": map[string]interface{}{"period": "day"},
		},
	}

	rows := normalizeRow("report1", raw, 1, "id")
	require.Len(t, rows, 1)
	assert.Equal(t, "day", rows[0].Values["campaign_budget_period"])
	assert.Equal(t, []string{"id", "accountId", "campaign_budget_period"}, rows[0].Columns)
}

func TestNormalizeRow_doesNotMutateInput(t *testing.T) {
	raw := entities.RawReportRow{
		"id":    float64(1),
		"stats": []interface{}{map[string]interface{}{"clicks": float64(1)}},
	}

	normalizeRow("report1", raw, 1, "id")
	assert.Contains(t, raw, "stats")
	assert.Contains(t, raw, "id")
}
