package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/internal/repository"
)

type queryRepository struct {
	db *DB
}

func NewQueryRepository(db *DB) repository.QueryRepository {
	return &queryRepository{db: db}
}

func (r *queryRepository) Query(ctx context.Context, query string, args ...interface{}) (*model.QueryResult, error) {
	if !repository.ReturnsRows(query) {
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, translateQuery(err)
		}
		affected, _ := res.RowsAffected()
		return &model.QueryResult{Fields: []model.Field{}, Rows: []model.Row{}, RowsAffected: affected}, nil
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, translateQuery(err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, translateQuery(err)
	}
	result := &model.QueryResult{
		Fields: make([]model.Field, len(types)),
		Rows:   []model.Row{},
	}
	for i, ct := range types {
		result.Fields[i] = model.Field{Name: ct.Name(), Type: strings.ToLower(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, translateQuery(err)
		}
		row := make(model.Row, len(values))
		for i, v := range values {
			row[result.Fields[i].Name] = normalize(types[i], v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, translateQuery(err)
	}
	return result, nil
}

// normalize turns a driver value into something encoding/json renders the way
// the results table expects.
func normalize(ct *sql.ColumnType, v interface{}) interface{} {
	typeName := strings.ToUpper(ct.DatabaseTypeName())
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		switch {
		case typeName == "BYTEA" || typeName == "BLOB":
			return t
		case isJSONColumn(ct.Name(), typeName) && json.Valid(t):
			return json.RawMessage(t)
		}
		return normalizeText(typeName, string(t))
	case string:
		if isJSONColumn(ct.Name(), typeName) && json.Valid([]byte(t)) {
			return json.RawMessage(t)
		}
		return normalizeText(typeName, t)
	case time.Time:
		if typeName == "DATE" {
			return model.Date{Time: t}
		}
		return t.UTC()
	}
	return v
}

func normalizeText(typeName, s string) interface{} {
	if typeName == "DATE" {
		if d, err := model.ParseDate(s); err == nil {
			return d
		}
	}
	return s
}

func isJSONColumn(name, typeName string) bool {
	return typeName == "JSON" || typeName == "JSONB" || name == "key_value_pairs"
}
