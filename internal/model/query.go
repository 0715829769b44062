package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SearchField is a column the guided search form may filter on.
type SearchField string

const (
	SearchFirstName   SearchField = "first_name"
	SearchLastName    SearchField = "last_name"
	SearchEmail       SearchField = "email"
	SearchPhoneNumber SearchField = "phone_number"
	SearchCity        SearchField = "city"
	SearchState       SearchField = "state"
	SearchPostalCode  SearchField = "postal_code"
	SearchReason      SearchField = "reason"
)

// SearchOption pairs a column with its form label.
type SearchOption struct {
	Value SearchField
	Label string
}

// SearchOptions lists the searchable columns in form order.
var SearchOptions = []SearchOption{
	{SearchFirstName, "First Name"},
	{SearchLastName, "Last Name"},
	{SearchEmail, "Email"},
	{SearchPhoneNumber, "Phone Number"},
	{SearchCity, "City"},
	{SearchState, "State"},
	{SearchPostalCode, "Postal Code"},
	{SearchReason, "Reason"},
}

// Valid reports whether f is one of SearchOptions.
func (f SearchField) Valid() bool {
	for _, o := range SearchOptions {
		if o.Value == f {
			return true
		}
	}
	return false
}

// SearchRequest is the guided search form.
type SearchRequest struct {
	Field SearchField `json:"field" form:"field" validate:"omitempty,searchfield"`
	Value string      `json:"value" form:"value" validate:"required,notblank"`
}

// SQLRequest is the SQL editor payload.
type SQLRequest struct {
	SQL string `json:"sql" form:"sql" validate:"required,notblank"`
}

// DisplayTimeLayout formats timestamps in tables and exports.
const DisplayTimeLayout = "2006-01-02 15:04:05"

// DefaultSQL is what the SQL editor starts with.
const DefaultSQL = "SELECT * FROM patients LIMIT 10"

type QueryMode string

const (
	ModeSimple QueryMode = "simple"
	ModeSQL    QueryMode = "sql"
)

// ParseQueryMode maps a route segment to a mode; anything but "sql" is simple.
func ParseQueryMode(s string) QueryMode {
	if s == string(ModeSQL) {
		return ModeSQL
	}
	return ModeSimple
}

// ExportRequest selects the rows to export with either query mode.
type ExportRequest struct {
	Mode  QueryMode   `json:"mode" form:"mode"`
	Field SearchField `json:"field" form:"field"`
	Value string      `json:"value" form:"value"`
	SQL   string      `json:"sql" form:"sql"`
}

// Field describes a result column.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Row maps column name to value.
type Row map[string]interface{}

// QueryResult is the outcome of a query in either mode.
type QueryResult struct {
	Fields       []Field `json:"fields"`
	Rows         []Row   `json:"rows"`
	RowsAffected int64   `json:"rows_affected,omitempty"`
}

// Columns returns the field names in order.
func (r *QueryResult) Columns() []string {
	cols := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		cols[i] = f.Name
	}
	return cols
}

// String renders a column value for display; missing and NULL values are "".
func (r Row) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	case []KeyValuePair, KeyValuePairs, map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case time.Time:
		return t.Format(DisplayTimeLayout)
	case Timestamp:
		return t.Format(DisplayTimeLayout)
	case Date:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Int64 returns an integer column, reporting false when absent or not numeric.
func (r Row) Int64(key string) (int64, bool) {
	switch t := r[key].(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
