package mapper

import (
	"fmt"
	"sort"
	"strings"
)

// SQLBuilder translates row maps into PostgreSQL statements. Table names are
// validated against the entity whitelist before they reach this package, so
// the builder only has to worry about column/value assembly
type SQLBuilder struct{}

// NewSQLBuilder initializes a new builder instance
func NewSQLBuilder() *SQLBuilder {
	return &SQLBuilder{}
}

// sortedKeys gives deterministic SQL for a given row map, which keeps
// statements cacheable and tests stable
func sortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildInsert generates an INSERT ... RETURNING id statement so the caller
// gets the backend-assigned identity in the same round trip
func (b *SQLBuilder) BuildInsert(tableName string, data map[string]any) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("no data provided for insert on table %s", tableName)
	}

	var columns []string
	var placeholders []string
	var args []any

	for i, k := range sortedKeys(data) {
		columns = append(columns, k)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, data[k])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	return query, args, nil
}

// BuildUpdate generates an UPDATE statement keyed by a single column. The key
// column is skipped in the SET clause if the row map happens to carry it
func (b *SQLBuilder) BuildUpdate(tableName string, keyColumn string, keyValue any, data map[string]any) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("no data provided for update on table %s", tableName)
	}

	var setClauses []string
	var args []any

	keys := make([]string, 0, len(data))
	for k := range data {
		if strings.EqualFold(k, keyColumn) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return "", nil, fmt.Errorf("no updatable columns for table %s", tableName)
	}

	for i, k := range keys {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", k, i+1))
		args = append(args, data[k])
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d",
		tableName,
		strings.Join(setClauses, ", "),
		keyColumn,
		len(args)+1,
	)
	args = append(args, keyValue)

	return query, args, nil
}

// BuildDelete generates a DELETE keyed by a single column
func (b *SQLBuilder) BuildDelete(tableName string, keyColumn string, keyValue any) (string, []any, error) {
	if tableName == "" || keyColumn == "" {
		return "", nil, fmt.Errorf("delete needs a table and key column")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", tableName, keyColumn)
	return query, []any{keyValue}, nil
}
