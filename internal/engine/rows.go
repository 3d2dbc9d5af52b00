package engine

import (
	"fmt"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/remote"
)

// Helpers for reading typed values out of generic backend rows. The driver
// hands back text as string, bigint as int64 and timestamp/date columns as
// time.Time; NULL arrives as a nil interface.

func rowString(row remote.Row, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func rowStringPtr(row remote.Row, key string) *string {
	if v, ok := row[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

func rowInt64(row remote.Row, key string) (int64, bool) {
	switch v := row[key].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

func rowTime(row remote.Row, key string) time.Time {
	if v, ok := row[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}

func rowTimePtr(row remote.Row, key string) *time.Time {
	if v, ok := row[key].(time.Time); ok {
		u := v.UTC()
		return &u
	}
	return nil
}

// rowDate renders a date column as YYYY-MM-DD regardless of whether the
// driver decoded it as a time or left it as text
func rowDate(row remote.Row, key string) string {
	switch v := row[key].(type) {
	case time.Time:
		return v.Format("2006-01-02")
	case string:
		return v
	}
	return ""
}

func rowRemoteID(row remote.Row) (*int64, error) {
	id, ok := rowInt64(row, "id")
	if !ok {
		return nil, fmt.Errorf("backend row carries no id: %v", row)
	}
	return &id, nil
}
