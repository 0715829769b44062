package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/internal/repository"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
)

// listColumns is every column except the photo blob, plus a has_photo flag.
const listColumns = `id, registration_datetime, key_value_pairs, first_name, last_name, sex, dob,
	phone_number, email, address_line1, address_line2, city, state, postal_code, reason,
	additional_notes, patient_history, created_at, (photo IS NOT NULL) AS has_photo`

const insertPatient = `
	INSERT INTO patients (
		registration_datetime, key_value_pairs, first_name, last_name, sex, dob,
		phone_number, email, address_line1, address_line2, city, state, postal_code,
		reason, additional_notes, patient_history, photo
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id, created_at
`

type patientRepository struct {
	db *DB
}

func NewPatientRepository(db *DB) repository.PatientRepository {
	return &patientRepository{db: db}
}

func insertArgs(p *model.Patient) []interface{} {
	var photo interface{}
	if len(p.Photo) > 0 {
		photo = p.Photo
	}
	return []interface{}{
		p.RegistrationDatetime,
		p.KeyValuePairs,
		p.FirstName,
		p.LastName,
		string(p.Sex),
		p.DOB,
		p.PhoneNumber,
		p.Email,
		p.AddressLine1,
		p.AddressLine2,
		p.City,
		p.State,
		p.PostalCode,
		p.Reason,
		p.AdditionalNotes,
		p.PatientHistory,
		photo,
	}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	return r.create(ctx, r.db.DB, patient)
}

func (r *patientRepository) create(ctx context.Context, q sqlx.QueryerContext, patient *model.Patient) error {
	row := q.QueryRowxContext(ctx, r.db.Dialect.Rebind(insertPatient), insertArgs(patient)...)
	if err := row.Scan(&patient.ID, &patient.CreatedAt); err != nil {
		return translate(err, "create patient")
	}
	patient.HasPhoto = len(patient.Photo) > 0
	return nil
}

// CreateMany inserts all patients in one transaction.
func (r *patientRepository) CreateMany(ctx context.Context, patients []*model.Patient) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for i, p := range patients {
			if err := r.create(ctx, tx, p); err != nil {
				return fmt.Errorf("record %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (r *patientRepository) Get(ctx context.Context, id int64) (*model.Patient, error) {
	query := r.db.Dialect.Rebind(`SELECT * FROM patients WHERE id = ?`)
	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("patient", err)
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	patient.HasPhoto = len(patient.Photo) > 0
	return &patient, nil
}

func (r *patientRepository) SearchQuery(field model.SearchField, value string) (string, []interface{}, error) {
	if field == "" {
		field = model.SearchFirstName
	}
	if !field.Valid() {
		return "", nil, apperrors.BadRequest(fmt.Sprintf("cannot search by %q", field), nil)
	}
	query := fmt.Sprintf(
		"SELECT %s FROM patients WHERE %s ORDER BY registration_datetime DESC",
		listColumns,
		r.db.Dialect.Contains(string(field)),
	)
	return r.db.Dialect.Rebind(query), []interface{}{"%" + value + "%"}, nil
}

func (r *patientRepository) Search(ctx context.Context, field model.SearchField, value string) ([]*model.Patient, error) {
	query, args, err := r.SearchQuery(field, value)
	if err != nil {
		return nil, err
	}
	patients := []*model.Patient{}
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search patients: %w", err)
	}
	return patients, nil
}

func (r *patientRepository) Photo(ctx context.Context, id int64) ([]byte, error) {
	query := r.db.Dialect.Rebind(`SELECT photo FROM patients WHERE id = ?`)
	var photo []byte
	if err := r.db.GetContext(ctx, &photo, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("patient", err)
		}
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}
	if len(photo) == 0 {
		return nil, apperrors.NotFound("photo", nil)
	}
	return photo, nil
}

func (r *patientRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM patients`); err != nil {
		return 0, fmt.Errorf("failed to count patients: %w", err)
	}
	return n, nil
}

var _ repository.BatchCreator = (*patientRepository)(nil)

