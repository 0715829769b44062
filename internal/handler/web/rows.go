package web

import (
	"strings"
	"time"

	"github.com/jwalitptl/patient-registry/internal/model"
)

// recordRow is one line of the results table.
type recordRow struct {
	ID         int64
	HasID      bool
	Name       string
	Email      string
	Phone      string
	Registered string
	HasPhoto   bool
	Initials   string
}

// recordRows maps query rows onto the results table. SQL mode may select any
// subset of columns, so every field is optional.
func recordRows(rows []model.Row) []recordRow {
	out := make([]recordRow, 0, len(rows))
	for _, row := range rows {
		r := recordRow{
			Email: row.String("email"),
			Phone: row.String("phone_number"),
		}
		r.ID, r.HasID = row.Int64("id")

		first, last := row.String("first_name"), row.String("last_name")
		r.Name = strings.TrimSpace(first + " " + last)
		r.Initials = initials(first, last)

		if ts, ok := registeredAt(row["registration_datetime"]); ok {
			r.Registered = ts.Local().Format(model.DisplayTimeLayout)
		} else {
			r.Registered = row.String("registration_datetime")
		}

		r.HasPhoto = r.HasID && hasPhoto(row)
		out = append(out, r)
	}
	return out
}

// registeredAt reads the registration time from a patient row (Timestamp), a
// postgres row (time.Time) or a sqlite row (stored text).
func registeredAt(v interface{}) (model.Timestamp, bool) {
	switch t := v.(type) {
	case model.Timestamp:
		return t, !t.IsZero()
	case time.Time:
		return model.NewTimestamp(t), !t.IsZero()
	case string:
		ts, err := model.ParseTimestampIn(t, time.UTC)
		return ts, err == nil
	case []byte:
		ts, err := model.ParseTimestampIn(string(t), time.UTC)
		return ts, err == nil
	}
	return model.Timestamp{}, false
}

func hasPhoto(row model.Row) bool {
	if b, ok := row["photo"].([]byte); ok {
		return len(b) > 0
	}
	switch v := row["has_photo"].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	}
	return false
}

func initials(first, last string) string {
	p := &model.Patient{FirstName: first}
	if last != "" {
		p.LastName = &last
	}
	return p.Initials()
}
