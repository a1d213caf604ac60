package extractor

import (
	"sort"
	"strconv"

	"github.com/keboola/sklik-extractor/internal/entities"
)

// NormalizedRow is one flat row destined for a named table, together with the
// schema the table gets if this row is its first.
type NormalizedRow struct {
	Table      string
	PrimaryKey []string
	Columns    []string
	Values     map[string]interface{}
}

// normalizeRow decomposes one raw report row into flat rows: per-period stats
// go to <name>-stats, repeated sub-entities go to <name>-<field>, nested
// scalar objects are flattened in place, and the remaining parent row gets the
// primary key and accountId columns prepended. Column order is deterministic:
// primary key first, then accountId, then the rest lexicographically.
func normalizeRow(reportName string, raw entities.RawReportRow, accountID int64, primary string) []NormalizedRow {
	row := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		row[k] = v
	}
	pkValue := row[primary]

	var out []NormalizedRow

	if stats, ok := row["stats"].([]interface{}); ok {
		for _, elem := range stats {
			stat, ok := elem.(map[string]interface{})
			if !ok {
				continue
			}
			out = append(out, normalizeStat(reportName, stat, pkValue, primary))
		}
		delete(row, "stats")
	}

	for field, value := range row {
		if field == primary {
			continue
		}
		arr, ok := value.([]interface{})
		if !ok {
			continue
		}
		if isEntityArray(arr) {
			for _, elem := range arr {
				entity := elem.(map[string]interface{})
				out = append(out, normalizeSubEntity(reportName, field, entity, pkValue, primary))
			}
		} else {
			// Arrays of scalars are flattened in place with index suffixes.
			for i, elem := range arr {
				flattenInto(row, field+"_"+strconv.Itoa(i), elem)
			}
		}
		delete(row, field)
	}

	for field, value := range row {
		if nested, ok := value.(map[string]interface{}); ok {
			delete(row, field)
			flattenInto(row, field, nested)
		}
	}

	delete(row, primary)
	columns := append([]string{primary, "accountId"}, sortedKeys(row)...)
	values := make(map[string]interface{}, len(row)+2)
	for k, v := range row {
		values[k] = v
	}
	values[primary] = pkValue
	values["accountId"] = accountID

	return append(out, NormalizedRow{
		Table:      reportName,
		PrimaryKey: []string{primary},
		Columns:    columns,
		Values:     values,
	})
}

// normalizeStat flattens one reporting period. The date column is kept even
// when absent upstream so the table schema stays stable, and nested maps are
// flattened a single level (deviceDesktop.clicks -> deviceDesktop_clicks).
func normalizeStat(reportName string, stat map[string]interface{}, pkValue interface{}, primary string) NormalizedRow {
	flat := make(map[string]interface{}, len(stat)+1)
	for k, v := range stat {
		if nested, ok := v.(map[string]interface{}); ok {
			for ck, cv := range nested {
				flat[k+"_"+ck] = cv
			}
			continue
		}
		flat[k] = v
	}
	if _, ok := flat["date"]; !ok {
		flat["date"] = nil
	}
	delete(flat, primary)

	columns := append([]string{primary}, sortedKeys(flat)...)
	values := make(map[string]interface{}, len(flat)+1)
	for k, v := range flat {
		values[k] = v
	}
	values[primary] = pkValue

	return NormalizedRow{
		Table:      reportName + "-stats",
		PrimaryKey: []string{primary, "date"},
		Columns:    columns,
		Values:     values,
	}
}

// normalizeSubEntity turns one element of a repeated-group array (regions and
// the like) into a row keyed by the parent primary plus the entity's own id.
// When the parent primary is itself named "id" the foreign key column becomes
// parentId so it cannot shadow the entity's own id.
func normalizeSubEntity(reportName, field string, entity map[string]interface{}, pkValue interface{}, primary string) NormalizedRow {
	flat := map[string]interface{}{}
	for k, v := range entity {
		flattenInto(flat, k, v)
	}

	fkColumn := primary
	if _, taken := flat[fkColumn]; taken {
		fkColumn = "parentId"
	}
	delete(flat, fkColumn)

	columns := append([]string{fkColumn}, sortedKeys(flat)...)
	values := make(map[string]interface{}, len(flat)+1)
	for k, v := range flat {
		values[k] = v
	}
	values[fkColumn] = pkValue

	return NormalizedRow{
		Table:      reportName + "-" + field,
		PrimaryKey: []string{fkColumn, "id"},
		Columns:    columns,
		Values:     values,
	}
}

// flattenInto recursively flattens a tree-shaped value into path-keyed
// scalars using underscore separators (budget.name -> budget_name).
func flattenInto(out map[string]interface{}, prefix string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, child := range v {
			flattenInto(out, prefix+"_"+k, child)
		}
	case []interface{}:
		for i, child := range v {
			flattenInto(out, prefix+"_"+strconv.Itoa(i), child)
		}
	default:
		out[prefix] = v
	}
}

// isEntityArray reports whether every element of a non-empty array is an
// object, i.e. the field is a repeated sub-entity group rather than a list of
// scalars.
func isEntityArray(arr []interface{}) bool {
	if len(arr) == 0 {
		return false
	}
	for _, elem := range arr {
		if _, ok := elem.(map[string]interface{}); !ok {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
