// Package live re-runs record queries whenever the patients table changes and
// delivers status-tagged results to subscribers.
package live

import (
	"context"
	"math"
	"reflect"
	"strings"

	"github.com/jwalitptl/patient-registry/internal/model"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Query is a statement with its positional parameters.
type Query struct {
	SQL    string        `json:"sql"`
	Params []interface{} `json:"params,omitempty"`
}

// Blank reports whether the statement is empty or whitespace.
func (q Query) Blank() bool {
	return strings.TrimSpace(q.SQL) == ""
}

// Same reports whether q and other would produce the same subscription.
func (q Query) Same(other Query) bool {
	return q.SQL == other.SQL && ParamsEqual(q.Params, other.Params)
}

// ParamsEqual compares parameter lists element by element. Nil and empty
// lists are equal to each other.
func ParamsEqual(a, b []interface{}) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameValue(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameValue(a, b interface{}) bool {
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			if math.IsNaN(fa) || math.IsNaN(fb) {
				return math.IsNaN(fa) && math.IsNaN(fb)
			}
			// 0 and -0 are distinct values.
			return fa == fb && math.Signbit(fa) == math.Signbit(fb)
		}
	}
	return reflect.DeepEqual(a, b)
}

// Data is one delivery of query results.
type Data struct {
	Rows         []model.Row   `json:"rows"`
	Fields       []model.Field `json:"fields"`
	TotalCount   int           `json:"totalCount"`
	Offset       int           `json:"offset,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	RowsAffected int64         `json:"rowsAffected,omitempty"`
}

func newData(r *model.QueryResult) *Data {
	return &Data{
		Rows:         r.Rows,
		Fields:       r.Fields,
		TotalCount:   len(r.Rows),
		RowsAffected: r.RowsAffected,
	}
}

// Result is what a subscriber observes. Error is set only with StatusError.
type Result struct {
	Status Status `json:"status"`
	Data   *Data  `json:"data"`
	Error  string `json:"error,omitempty"`

	err error
}

// Err returns the failure behind a StatusError result.
func (r Result) Err() error {
	return r.err
}

func successResult(data *Data) Result {
	return Result{Status: StatusSuccess, Data: data}
}

func errorResult(err error) Result {
	return Result{Status: StatusError, Error: err.Error(), err: err}
}

// Runner executes a statement. repository.QueryRepository satisfies it.
type Runner interface {
	Query(ctx context.Context, query string, args ...interface{}) (*model.QueryResult, error)
}
