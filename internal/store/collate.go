package store

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Listings are ordered in Go rather than with ORDER BY: SQLite compares raw
// bytes, which mangles the Arabic names most offices and students carry
var nameCollator = collate.New(language.Arabic, collate.Loose)

func sortByName[T any](items []T, name func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		return nameCollator.CompareString(name(items[i]), name(items[j])) < 0
	})
}
