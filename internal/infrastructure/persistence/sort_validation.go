package persistence

import (
	"strings"

	"gorm.io/gorm/clause"
)

// tenantSortColumns are the directory columns a listing may be ordered by
var tenantSortColumns = map[string]struct{}{
	"id":                    {},
	"created_at":            {},
	"updated_at":            {},
	"subdomain":             {},
	"name":                  {},
	"plan":                  {},
	"subscription_status":   {},
	"trial_end_date":        {},
	"subscription_end_date": {},
}

// tenantOrder turns caller-supplied sort input into an ORDER BY clause.
// Unknown columns fall back to created_at and anything but "asc" sorts
// descending. The id breaks ties so pages are stable.
func tenantOrder(orderBy, orderDir string) clause.OrderBy {
	column := strings.ToLower(strings.TrimSpace(orderBy))
	if _, ok := tenantSortColumns[column]; !ok {
		column = "created_at"
	}
	desc := !strings.EqualFold(strings.TrimSpace(orderDir), "asc")

	columns := []clause.OrderByColumn{{Column: clause.Column{Name: column}, Desc: desc}}
	if column != "id" {
		columns = append(columns, clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc})
	}
	return clause.OrderBy{Columns: columns}
}
