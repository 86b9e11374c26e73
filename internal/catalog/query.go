package catalog

import (
	"crypto/md5" //nolint:gosec // cache key, not a security boundary
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

// Query holds the parameters a source is asked for
type Query struct {
	Page                     int      `json:"page,omitempty"`
	Limit                    int      `json:"limit,omitempty"`
	Sort                     string   `json:"sort,omitempty"`
	Search                   string   `json:"search,omitempty"`
	Categories               []string `json:"categories,omitempty"`
	MachineName              string   `json:"machine_name,omitempty"`
	MaintenanceStatus        bool     `json:"maintenance_status,omitempty"`
	SecurityAdvisoryCoverage bool     `json:"security_advisory_coverage,omitempty"`
}

// Normalize returns the query with categories sorted so equivalent queries
// hash identically.
func (q Query) Normalize() Query {
	if len(q.Categories) > 0 {
		cats := append([]string(nil), q.Categories...)
		sort.Strings(cats)
		q.Categories = cats
	}
	return q
}

// Serialize encodes the normalized query. An empty query serializes as "[]".
func (q Query) Serialize() string {
	n := q.Normalize()
	if n.isZero() {
		return "[]"
	}
	data, err := json.Marshal(n)
	if err != nil {
		// Query only holds strings, ints and bools.
		panic(err)
	}
	return string(data)
}

func (q Query) isZero() bool {
	return q.Page == 0 && q.Limit == 0 && q.Sort == "" && q.Search == "" &&
		len(q.Categories) == 0 && q.MachineName == "" &&
		!q.MaintenanceStatus && !q.SecurityAdvisoryCoverage
}

// CacheKey is the storage key for this query's results
func (q Query) CacheKey() string {
	sum := md5.Sum([]byte(q.Serialize())) //nolint:gosec // cache key
	return "query:" + hex.EncodeToString(sum[:])
}

// Values renders the query as URL parameters for remote sources
func (q Query) Values() map[string]string {
	v := map[string]string{}
	if q.Page > 0 {
		v["page"] = strconv.Itoa(q.Page)
	}
	if q.Limit > 0 {
		v["limit"] = strconv.Itoa(q.Limit)
	}
	if q.Sort != "" {
		v["sort"] = q.Sort
	}
	if q.Search != "" {
		v["search"] = q.Search
	}
	if q.MachineName != "" {
		v["machine_name"] = q.MachineName
	}
	if q.MaintenanceStatus {
		v["maintenance_status"] = "1"
	}
	if q.SecurityAdvisoryCoverage {
		v["security_advisory_coverage"] = "1"
	}
	return v
}
