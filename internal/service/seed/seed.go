package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/tailscale/hujson"

	"github.com/jwalitptl/patient-registry/internal/model"
)

// DemoPhone is used for every generated record so no real number is dialled.
const DemoPhone = "+910000000000"

// Registrar stores a batch of registrations. The patient service implements it.
type Registrar interface {
	RegisterMany(ctx context.Context, reqs []*model.RegisterPatientRequest) ([]*model.Patient, error)
	Count(ctx context.Context) (int64, error)
}

type Seeder struct {
	registrar Registrar
	faker     *gofakeit.Faker
	now       func() time.Time
}

// NewSeeder returns a seeder; seed 0 picks a random seed.
func NewSeeder(r Registrar, seed uint64) *Seeder {
	return &Seeder{registrar: r, faker: gofakeit.New(seed), now: time.Now}
}

// Generate builds n fake registration requests.
func (s *Seeder) Generate(n int) []*model.RegisterPatientRequest {
	reqs := make([]*model.RegisterPatientRequest, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, s.fake())
	}
	return reqs
}

func (s *Seeder) fake() *model.RegisterPatientRequest {
	f := s.faker
	first, last := f.FirstName(), f.LastName()
	return &model.RegisterPatientRequest{
		RegistrationDatetime: s.now().UTC().Format(time.RFC3339),
		KeyValuePairs: []model.KeyValuePair{
			{Name: "insurance", Data: f.FirstName()},
			{Name: "emergency_contact", Data: f.Name()},
		},
		FirstName:       first,
		LastName:        last,
		Sex:             f.RandomString([]string{"male", "female", "other"}),
		DOB:             f.DateRange(time.Date(1930, 1, 1, 0, 0, 0, 0, time.UTC), s.now()).Format(model.DateLayout),
		PhoneNumber:     DemoPhone,
		Email:           fakeEmail(first, last, f.DomainName()),
		AddressLine1:    f.Street(),
		AddressLine2:    fmt.Sprintf("Apt. %d", f.Number(1, 999)),
		City:            f.City(),
		State:           f.State(),
		PostalCode:      f.Zip(),
		Reason:          f.Sentence(6),
		AdditionalNotes: f.Paragraph(1, 3, 10, " "),
		PatientHistory:  f.Paragraph(2, 3, 10, "\n\n"),
	}
}

func fakeEmail(first, last, domain string) string {
	local := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			return r
		}
		return -1
	}, strings.ToLower(first+"."+last))
	if local == "" || local == "." {
		local = "patient"
	}
	return local + "@" + strings.ToLower(domain)
}

// Seed registers every request as one batch; a failure stores none of them.
func (s *Seeder) Seed(ctx context.Context, reqs []*model.RegisterPatientRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	patients, err := s.registrar.RegisterMany(ctx, reqs)
	if err != nil {
		return 0, err
	}
	return len(patients), nil
}

// Total reports how many patients the registry holds.
func (s *Seeder) Total(ctx context.Context) (int64, error) {
	return s.registrar.Count(ctx)
}

// Parse decodes a JSON or JSONC (comments, trailing commas) list of requests.
func Parse(data []byte) ([]*model.RegisterPatientRequest, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	var reqs []*model.RegisterPatientRequest
	if err := json.Unmarshal(std, &reqs); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return reqs, nil
}

func LoadFile(path string) ([]*model.RegisterPatientRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
