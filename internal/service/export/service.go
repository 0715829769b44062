package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jwalitptl/patient-registry/internal/model"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
	"github.com/jwalitptl/patient-registry/pkg/metrics"
)

const (
	SheetName   = "Patients"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Column is one spreadsheet column and the result column it reads.
type Column struct {
	Label  string
	Source string
	Width  float64
}

// Columns is the fixed export layout.
var Columns = []Column{
	{"First Name", "first_name", 16},
	{"Last Name", "last_name", 16},
	{"Email", "email", 28},
	{"Phone", "phone_number", 16},
	{"Registration Date", "registration_datetime", 20},
	{"Sex", "sex", 8},
	{"Date of Birth", "dob", 14},
	{"Address Line 1", "address_line1", 28},
	{"Address Line 2", "address_line2", 20},
	{"City", "city", 16},
	{"State", "state", 16},
	{"Postal Code", "postal_code", 12},
	{"Reason", "reason", 30},
	{"Additional Notes", "additional_notes", 30},
	{"Patient History", "patient_history", 30},
}

// FileName is the attachment name for an export taken at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("patient_records_%s.xlsx", t.UTC().Format(model.DateLayout))
}

type Service struct {
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(m *metrics.Metrics) *Service {
	return &Service{metrics: m, now: time.Now}
}

// Workbook builds the spreadsheet. The caller must Close it.
func (s *Service) Workbook(rows []model.Row) (*excelize.File, error) {
	if len(rows) == 0 {
		return nil, apperrors.BadRequest("there are no records to export", nil)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c.Label
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(Columns), 1)
		_ = f.SetCellStyle(SheetName, "A1", last, style)
	}
	for i, c := range Columns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(SheetName, col, col, c.Width)
	}

	for r, row := range rows {
		values := make([]interface{}, len(Columns))
		for i, c := range Columns {
			values[i] = cellValue(row, c.Source)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", r+1, err)
		}
	}
	return f, nil
}

// Write renders rows as an XLSX document into w.
func (s *Service) Write(w io.Writer, rows []model.Row) error {
	f, err := s.Workbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	if s.metrics != nil {
		s.metrics.Exports.Inc()
	}
	return nil
}

// Bytes renders rows and returns the document with its file name.
func (s *Service) Bytes(rows []model.Row) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := s.Write(&buf, rows); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), FileName(s.now()), nil
}

// cellValue renders one column; missing and NULL values become "".
func cellValue(row model.Row, key string) string {
	if key == "registration_datetime" {
		switch v := row[key].(type) {
		case string:
			if ts, err := model.ParseTimestamp(v); err == nil {
				return ts.Format(model.DisplayTimeLayout)
			}
		case []byte:
			if ts, err := model.ParseTimestamp(string(v)); err == nil {
				return ts.Format(model.DisplayTimeLayout)
			}
		}
	}
	return row.String(key)
}
