// Package storage accumulates flat rows per discovered table and writes them
// as CSV files with JSON sidecar manifests, the format consumed by the
// downstream storage loader.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// manifest is the sidecar metadata describing one table to the loader.
type manifest struct {
	Destination string   `json:"destination"`
	Incremental bool     `json:"incremental"`
	PrimaryKey  []string `json:"primary_key"`
}

type table struct {
	columns []string
	primary []string
	file    *os.File
}

// UserStorage owns one CSV file per table for the whole process lifetime.
// Files open lazily on the first row and the schema of a table is frozen by
// whoever registers it first: later rows are reshaped to that column list,
// absent values becoming empty strings.
type UserStorage struct {
	path   string
	tables map[string]*table
}

func NewUserStorage(path string) *UserStorage {
	return &UserStorage{
		path:   path,
		tables: map[string]*table{},
	}
}

// AddTable registers a table schema. The first registration wins; repeated
// registrations of the same name are ignored so that the first row of a
// report keeps defining the column set.
func (s *UserStorage) AddTable(name string, columns, primary []string) {
	if _, ok := s.tables[name]; ok {
		return
	}
	s.tables[name] = &table{columns: columns, primary: primary}
}

// HasTable reports whether a schema is already registered for name.
func (s *UserStorage) HasTable(name string) bool {
	_, ok := s.tables[name]
	return ok
}

// Save appends one row to a registered table, creating the CSV file, header
// row and manifest on first write. Fields not in the table's column set are
// dropped; missing fields serialize as empty strings.
func (s *UserStorage) Save(name string, data map[string]interface{}) error {
	t, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("table %q is not registered", name)
	}

	if t.file == nil {
		filePath := filepath.Join(s.path, name+".csv")
		file, err := os.Create(filePath)
		if err != nil {
			return fmt.Errorf("creating table file %s: %w", filePath, err)
		}
		t.file = file
		if err := writeRow(file, t.columns); err != nil {
			return fmt.Errorf("writing header of table %q: %w", name, err)
		}
		if err := s.writeManifest(filePath, name, t.primary); err != nil {
			return err
		}
	}

	row := make([]string, len(t.columns))
	for i, column := range t.columns {
		row[i] = formatValue(data[column])
	}
	if err := writeRow(t.file, row); err != nil {
		return fmt.Errorf("writing row to table %q: %w", name, err)
	}
	return nil
}

// Close flushes and closes all open table files. Called once at normal
// process exit, never mid-run.
func (s *UserStorage) Close() error {
	var firstErr error
	for name, t := range s.tables {
		if t.file == nil {
			continue
		}
		if err := t.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing table %q: %w", name, err)
		}
		t.file = nil
	}
	return firstErr
}

func (s *UserStorage) writeManifest(filePath, name string, primary []string) error {
	if primary == nil {
		primary = []string{}
	}
	contents, err := json.Marshal(manifest{
		Destination: name,
		Incremental: true,
		PrimaryKey:  primary,
	})
	if err != nil {
		return fmt.Errorf("encoding manifest of table %q: %w", name, err)
	}
	manifestPath := filePath + ".manifest"
	if err := os.WriteFile(manifestPath, contents, 0o644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", manifestPath, err)
	}
	return nil
}

// writeRow writes one CSV record with every field quoted, the framing the
// downstream loader expects. encoding/csv cannot force-quote unconditionally,
// hence the local implementation.
func writeRow(file *os.File, fields []string) error {
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	_, err := file.WriteString(b.String())
	return err
}

// formatValue serializes a JSON-decoded scalar for CSV output. Nulls and
// absent values become empty strings.
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}
