package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

// MaxPhotoBytes is the photo ceiling shared with the table CHECK.
const MaxPhotoBytes = 5 * 1024 * 1024

// Patient is a row of the patients table.
type Patient struct {
	ID                   int64         `db:"id" json:"id"`
	RegistrationDatetime Timestamp     `db:"registration_datetime" json:"registration_datetime"`
	KeyValuePairs        KeyValuePairs `db:"key_value_pairs" json:"key_value_pairs"`
	FirstName            string        `db:"first_name" json:"first_name"`
	LastName             *string       `db:"last_name" json:"last_name"`
	Sex                  Sex           `db:"sex" json:"sex"`
	DOB                  Date          `db:"dob" json:"dob"`
	PhoneNumber          string        `db:"phone_number" json:"phone_number"`
	Email                string        `db:"email" json:"email"`
	AddressLine1         string        `db:"address_line1" json:"address_line1"`
	AddressLine2         *string       `db:"address_line2" json:"address_line2"`
	City                 string        `db:"city" json:"city"`
	State                string        `db:"state" json:"state"`
	PostalCode           string        `db:"postal_code" json:"postal_code"`
	Reason               string        `db:"reason" json:"reason"`
	AdditionalNotes      *string       `db:"additional_notes" json:"additional_notes"`
	PatientHistory       *string       `db:"patient_history" json:"patient_history"`
	Photo                []byte        `db:"photo" json:"-"`
	HasPhoto             bool          `db:"has_photo" json:"has_photo"`
	CreatedAt            Timestamp     `db:"created_at" json:"created_at"`
}

// FullName joins first and last name the way the results table shows it.
func (p *Patient) FullName() string {
	if p.LastName == nil || *p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + *p.LastName
}

// Initials is the photo placeholder.
func (p *Patient) Initials() string {
	var b strings.Builder
	if r := []rune(p.FirstName); len(r) > 0 {
		b.WriteRune(r[0])
	}
	if p.LastName != nil {
		if r := []rune(*p.LastName); len(r) > 0 {
			b.WriteRune(r[0])
		}
	}
	return strings.ToUpper(b.String())
}

// KeyValuePair is one ad-hoc field from the "Additional Information" rows.
type KeyValuePair struct {
	Name string `json:"name" validate:"required,notblank"`
	Data string `json:"data" validate:"required,notblank"`
}

// KeyValuePairs is stored as a JSON array; an empty list is stored as NULL.
type KeyValuePairs []KeyValuePair

func (k KeyValuePairs) Value() (driver.Value, error) {
	if len(k) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]KeyValuePair(k))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (k *KeyValuePairs) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*k = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into KeyValuePairs", src)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*k = nil
		return nil
	}
	var pairs []KeyValuePair
	if err := json.Unmarshal(raw, &pairs); err == nil {
		*k = pairs
		return nil
	}
	// Rows inserted through the SQL console may hold a plain object.
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("invalid key_value_pairs: %w", err)
	}
	pairs = make([]KeyValuePair, 0, len(obj))
	for name, data := range obj {
		pairs = append(pairs, KeyValuePair{Name: name, Data: fmt.Sprint(data)})
	}
	*k = pairs
	return nil
}

// RegisterPatientRequest is the registration form payload. The rules are the
// same ones the patients table CHECK constraints enforce.
type RegisterPatientRequest struct {
	RegistrationDatetime string         `json:"registration_datetime" form:"registration_datetime" validate:"required,notblank"`
	KeyValuePairs        []KeyValuePair `json:"key_value_pairs" form:"-" validate:"omitempty,dive"`
	FirstName            string         `json:"first_name" form:"first_name" validate:"required,notblank"`
	LastName             string         `json:"last_name" form:"last_name"`
	Sex                  string         `json:"sex" form:"sex" validate:"required,sex"`
	DOB                  string         `json:"dob" form:"dob" validate:"required,isodate"`
	PhoneNumber          string         `json:"phone_number" form:"phone_number" validate:"required,phone"`
	Email                string         `json:"email" form:"email" validate:"required,emailshape"`
	AddressLine1         string         `json:"address_line1" form:"address_line1" validate:"required,notblank"`
	AddressLine2         string         `json:"address_line2" form:"address_line2"`
	City                 string         `json:"city" form:"city" validate:"required,notblank"`
	State                string         `json:"state" form:"state" validate:"required,notblank"`
	PostalCode           string         `json:"postal_code" form:"postal_code" validate:"required,notblank"`
	Reason               string         `json:"reason" form:"reason" validate:"required,notblank"`
	AdditionalNotes      string         `json:"additional_notes" form:"additional_notes"`
	PatientHistory       string         `json:"patient_history" form:"patient_history"`
	Photo                []byte         `json:"photo,omitempty" form:"-" validate:"omitempty,max=5242880,imagebytes"`
}

// ToPatient converts a validated request into a row.
func (r *RegisterPatientRequest) ToPatient() (*Patient, error) {
	registered, err := ParseTimestamp(r.RegistrationDatetime)
	if err != nil {
		return nil, err
	}
	dob, err := ParseDate(r.DOB)
	if err != nil {
		return nil, err
	}

	p := &Patient{
		RegistrationDatetime: registered,
		KeyValuePairs:        KeyValuePairs(r.KeyValuePairs),
		FirstName:            strings.TrimSpace(r.FirstName),
		LastName:             optional(r.LastName),
		Sex:                  Sex(r.Sex),
		DOB:                  dob,
		PhoneNumber:          strings.TrimSpace(r.PhoneNumber),
		Email:                strings.TrimSpace(r.Email),
		AddressLine1:         strings.TrimSpace(r.AddressLine1),
		AddressLine2:         optional(r.AddressLine2),
		City:                 strings.TrimSpace(r.City),
		State:                strings.TrimSpace(r.State),
		PostalCode:           strings.TrimSpace(r.PostalCode),
		Reason:               strings.TrimSpace(r.Reason),
		AdditionalNotes:      optional(r.AdditionalNotes),
		PatientHistory:       optional(r.PatientHistory),
	}
	if len(r.Photo) > 0 {
		p.Photo = r.Photo
		p.HasPhoto = true
	}
	return p, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences an optional column.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Row flattens a patient into the shape the SQL console returns, so both query
// modes render and export the same way. The photo blob is left out.
func (p *Patient) Row() Row {
	row := Row{
		"id":                    p.ID,
		"registration_datetime": p.RegistrationDatetime,
		"first_name":            p.FirstName,
		"sex":                   string(p.Sex),
		"dob":                   p.DOB,
		"phone_number":          p.PhoneNumber,
		"email":                 p.Email,
		"address_line1":         p.AddressLine1,
		"city":                  p.City,
		"state":                 p.State,
		"postal_code":           p.PostalCode,
		"reason":                p.Reason,
		"has_photo":             p.HasPhoto,
		"created_at":            p.CreatedAt,
	}
	optionalCols := map[string]*string{
		"last_name":        p.LastName,
		"address_line2":    p.AddressLine2,
		"additional_notes": p.AdditionalNotes,
		"patient_history":  p.PatientHistory,
	}
	for col, v := range optionalCols {
		if v != nil {
			row[col] = *v
		} else {
			row[col] = nil
		}
	}
	if len(p.KeyValuePairs) > 0 {
		row["key_value_pairs"] = []KeyValuePair(p.KeyValuePairs)
	} else {
		row["key_value_pairs"] = nil
	}
	return row
}

// PatientFields lists the columns of Patient.Row in table order.
var PatientFields = []Field{
	{Name: "id"},
	{Name: "registration_datetime"},
	{Name: "key_value_pairs"},
	{Name: "first_name"},
	{Name: "last_name"},
	{Name: "sex"},
	{Name: "dob"},
	{Name: "phone_number"},
	{Name: "email"},
	{Name: "address_line1"},
	{Name: "address_line2"},
	{Name: "city"},
	{Name: "state"},
	{Name: "postal_code"},
	{Name: "reason"},
	{Name: "additional_notes"},
	{Name: "patient_history"},
	{Name: "created_at"},
	{Name: "has_photo"},
}

// PatientResult wraps search results as a QueryResult.
func PatientResult(patients []*Patient) *QueryResult {
	rows := make([]Row, len(patients))
	for i, p := range patients {
		rows[i] = p.Row()
	}
	return &QueryResult{Fields: PatientFields, Rows: rows}
}
