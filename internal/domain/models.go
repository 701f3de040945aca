// Package domain contains the core domain types for the genomic query front end.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Table is the fully qualified table every query targets.
const Table = "cris_database.cris_table"

// DefaultLimit is the row limit applied when a request omits one.
const DefaultLimit = 100

// Equality filter fields, in the order their clauses are emitted.
var EqualityFields = []string{"species", "cell_type", "crosslinker", "ligase", "extra"}

// Range filter fields, in the order their clauses are emitted.
var RangeFields = []string{"litigation_time", "ligation_incubation_time", "exo_time"}

// Selections maps a filter field to its raw JSON value. Values stay raw so
// unknown fields can be echoed back exactly as the client sent them.
type Selections map[string]json.RawMessage

// RangeFilter is a comparison against a numeric field.
type RangeFilter struct {
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// UnmarshalJSON accepts the value either as a string or as a JSON number.
func (r *RangeFilter) UnmarshalJSON(data []byte) error {
	var raw struct {
		Operator *string        `json:"operator"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Operator != nil {
		r.Operator = *raw.Operator
	}

	r.Value = ""
	v := bytes.TrimSpace(raw.Value)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil
	}
	if v[0] == '"' {
		return json.Unmarshal(v, &r.Value)
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("value must be a string or a number")
	}
	r.Value = n.String()
	return nil
}

// Equality returns the string value of an equality field. A missing field,
// a JSON null and an empty string all report ok=false.
func (s Selections) Equality(field string) (value string, ok bool, err error) {
	raw, present := s[field]
	if !present || isNull(raw) {
		return "", false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, fmt.Errorf("%s must be a string", field)
	}
	return value, value != "", nil
}

// Range returns the range filter for field. ok is false when the field is
// absent or null; an entry with an empty value is still returned so its
// operator can be checked.
func (s Selections) Range(field string) (filter RangeFilter, ok bool, err error) {
	raw, present := s[field]
	if !present || isNull(raw) {
		return RangeFilter{}, false, nil
	}
	if err := json.Unmarshal(raw, &filter); err != nil {
		return RangeFilter{}, false, fmt.Errorf("%s must be an object with operator and value: %w", field, err)
	}
	return filter, true, nil
}

// Keys returns the selection keys in sorted order, for logging.
func (s Selections) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Display returns a field value for mock results: strings as-is, range
// filters as their value, anything missing as "Unknown".
func (s Selections) Display(field string) string {
	if v, ok, err := s.Equality(field); err == nil && ok {
		return v
	}
	if f, ok, err := s.Range(field); err == nil && ok && f.Value != "" {
		return f.Value
	}
	return "Unknown"
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Selections      Selections `json:"selections"`
	FilesRequired   []string   `json:"files_required"`
	Limit           *int       `json:"limit,omitempty"`
	IncludeDownload bool       `json:"include_download"`

	// Inline credentials are accepted for compatibility but never forwarded.
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
}

// EffectiveLimit returns the requested limit or DefaultLimit.
func (r QueryRequest) EffectiveLimit() int {
	if r.Limit == nil {
		return DefaultLimit
	}
	return *r.Limit
}

// HasInlineCredentials reports whether the client sent credentials in the body.
func (r QueryRequest) HasInlineCredentials() bool {
	return r.AccessKey != "" || r.SecretKey != ""
}

// ResultRow is a single row of a mock result.
type ResultRow struct {
	ID             int      `json:"id"`
	Species        string   `json:"species"`
	CellType       string   `json:"cell_type"`
	Crosslinker    string   `json:"crosslinker"`
	LitigationTime string   `json:"litigation_time"`
	Files          []string `json:"files"`
}

// QueryResponse is the mock response of POST /api/query.
type QueryResponse struct {
	Success         bool        `json:"success"`
	QueryID         string      `json:"query_id"`
	SQLQuery        string      `json:"sql_query"`
	Parameters      []any       `json:"parameters"`
	Selections      Selections  `json:"selections"`
	FilesRequired   []string    `json:"files_required"`
	Limit           int         `json:"limit"`
	IncludeDownload bool        `json:"include_download"`
	Results         []ResultRow `json:"results"`
	Message         string      `json:"message"`
}

// DownstreamQuery is the parameterized query sent along with a forwarded request.
type DownstreamQuery struct {
	SQL        string `json:"sql"`
	Parameters []any  `json:"parameters"`
}

// DownstreamRequest is the payload sent to the query execution service.
type DownstreamRequest struct {
	Path            string          `json:"path"`
	Selections      Selections      `json:"selections"`
	FilesRequired   []string        `json:"files_required"`
	Limit           int             `json:"limit"`
	IncludeDownload bool            `json:"include_download"`
	Query           DownstreamQuery `json:"query"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}
