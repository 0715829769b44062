package repository

import (
	"context"

	"github.com/jwalitptl/patient-registry/internal/model"
)

// All repository interfaces in one file
type (
	// PatientRepository persists and reads patient records.
	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id int64) (*model.Patient, error)
		Search(ctx context.Context, field model.SearchField, value string) ([]*model.Patient, error)
		// SearchQuery builds the statement Search runs, for callers that execute it themselves.
		SearchQuery(field model.SearchField, value string) (string, []interface{}, error)
		Photo(ctx context.Context, id int64) ([]byte, error)
		Count(ctx context.Context) (int64, error)
	}

	// BatchCreator is implemented by patient repositories that can insert a
	// batch in one transaction.
	BatchCreator interface {
		CreateMany(ctx context.Context, patients []*model.Patient) error
	}

	// QueryRepository runs caller-supplied SQL.
	QueryRepository interface {
		Query(ctx context.Context, query string, args ...interface{}) (*model.QueryResult, error)
	}

	// Pinger reports database reachability.
	Pinger interface {
		PingContext(ctx context.Context) error
	}
)
