package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/patient-registry/internal/email"
	"github.com/jwalitptl/patient-registry/internal/live"
	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/internal/repository"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
	"github.com/jwalitptl/patient-registry/pkg/logger"
	"github.com/jwalitptl/patient-registry/pkg/messaging"
	"github.com/jwalitptl/patient-registry/pkg/metrics"
	pkgvalidator "github.com/jwalitptl/patient-registry/pkg/validator"
)

const (
	defaultCacheTTL = 30 * time.Second
	emailTimeout    = 30 * time.Second
)

type PatientService interface {
	Register(ctx context.Context, req *model.RegisterPatientRequest) (*model.Patient, error)
	GetPatient(ctx context.Context, id int64) (*model.Patient, error)
	GetPhoto(ctx context.Context, id int64) ([]byte, error)
	Search(ctx context.Context, req *model.SearchRequest) ([]*model.Patient, error)
	ExecuteSQL(ctx context.Context, query string) (*model.QueryResult, error)
	// LiveQuery builds the statement a live subscription runs for req.
	LiveQuery(req *model.ExportRequest) (live.Query, error)
	// Records runs req in its mode and returns rows ready for display or export.
	Records(ctx context.Context, req *model.ExportRequest) (*model.QueryResult, error)
	// ExportRecords is Records limited to statements that only read.
	ExportRecords(ctx context.Context, req *model.ExportRequest) (*model.QueryResult, error)
}

// Options wires the optional collaborators.
type Options struct {
	Broker    messaging.Broker
	Email     email.Service
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Validator *pkgvalidator.Validator
	CacheTTL  time.Duration
	// Source tags published change events.
	Source string
}

type Service struct {
	repo      repository.PatientRepository
	query     repository.QueryRepository
	broker    messaging.Broker
	email     email.Service
	log       *logger.Logger
	metrics   *metrics.Metrics
	validator *pkgvalidator.Validator
	cache     *cache.Cache
	source    string

	// cacheMu orders flushes against cache fills; cacheGen counts flushes so
	// a search that overlapped a change does not cache its stale rows.
	cacheMu  sync.Mutex
	cacheGen uint64
}

func NewService(repo repository.PatientRepository, query repository.QueryRepository, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Validator == nil {
		opts.Validator = pkgvalidator.New()
	}
	if opts.Email == nil {
		opts.Email = email.NewService(email.Config{})
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	opts.Validator.MustRegisterValidation("searchfield", func(fl validator.FieldLevel) bool {
		return model.SearchField(fl.Field().String()).Valid()
	}, "")

	return &Service{
		repo:      repo,
		query:     query,
		broker:    opts.Broker,
		email:     opts.Email,
		log:       opts.Logger.With("patient"),
		metrics:   opts.Metrics,
		validator: opts.Validator,
		cache:     cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		source:    opts.Source,
	}
}

func (s *Service) Register(ctx context.Context, req *model.RegisterPatientRequest) (*model.Patient, error) {
	if err := s.validator.Validate(req); err != nil {
		s.countRegistration("invalid")
		return nil, err
	}

	patient, err := req.ToPatient()
	if err != nil {
		s.countRegistration("invalid")
		return nil, apperrors.BadRequest("invalid patient data", err)
	}

	if err := s.repo.Create(ctx, patient); err != nil {
		if apperrors.IsBadRequest(err) {
			s.countRegistration("rejected")
		} else {
			s.countRegistration("error")
		}
		return nil, err
	}
	s.countRegistration("created")
	s.log.Info("patient registered", "patient_id", patient.ID, "has_photo", patient.HasPhoto)

	s.changed(ctx, "insert", patient.ID)
	s.sendEmail(patient)

	return patient, nil
}

// RegisterMany validates every request before storing any of them. A
// repository.BatchCreator stores the batch in one transaction; other
// repositories store it row by row. One change event covers the batch.
func (s *Service) RegisterMany(ctx context.Context, reqs []*model.RegisterPatientRequest) ([]*model.Patient, error) {
	patients := make([]*model.Patient, 0, len(reqs))
	for i, req := range reqs {
		if err := s.validator.Validate(req); err != nil {
			s.countRegistration("invalid")
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		patient, err := req.ToPatient()
		if err != nil {
			s.countRegistration("invalid")
			return nil, fmt.Errorf("record %d: %w", i+1, apperrors.BadRequest("invalid patient data", err))
		}
		patients = append(patients, patient)
	}
	if len(patients) == 0 {
		return patients, nil
	}

	if err := s.createAll(ctx, patients); err != nil {
		s.countRegistration("error")
		return nil, err
	}
	for _, patient := range patients {
		s.countRegistration("created")
		s.sendEmail(patient)
	}
	s.log.Info("patients registered", "count", len(patients))

	s.changed(ctx, "insert", 0)
	return patients, nil
}

func (s *Service) createAll(ctx context.Context, patients []*model.Patient) error {
	if batch, ok := s.repo.(repository.BatchCreator); ok {
		return batch.CreateMany(ctx, patients)
	}
	for i, patient := range patients {
		if err := s.repo.Create(ctx, patient); err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
	}
	return nil
}

// Count reports how many patients are registered.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*model.Patient, error) {
	if id <= 0 {
		return nil, apperrors.NotFound("patient", nil)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetPhoto(ctx context.Context, id int64) ([]byte, error) {
	if id <= 0 {
		return nil, apperrors.NotFound("patient", nil)
	}
	return s.repo.Photo(ctx, id)
}

func (s *Service) Search(ctx context.Context, req *model.SearchRequest) ([]*model.Patient, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	field := req.Field
	if field == "" {
		field = model.SearchFirstName
	}

	key := string(field) + "\x00" + req.Value
	if cached, ok := s.cache.Get(key); ok {
		s.countQuery(model.ModeSimple, "cached")
		return cached.([]*model.Patient), nil
	}

	gen := s.cacheGeneration()
	start := time.Now()
	patients, err := s.repo.Search(ctx, field, req.Value)
	s.observeQuery(model.ModeSimple, start, err)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	if s.cacheGen == gen {
		s.cache.SetDefault(key, patients)
	}
	s.cacheMu.Unlock()
	return patients, nil
}

func (s *Service) ExecuteSQL(ctx context.Context, query string) (*model.QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.NewValidation(map[string]string{"sql": "is required"})
	}

	start := time.Now()
	result, err := s.query.Query(ctx, query)
	s.observeQuery(model.ModeSQL, start, err)
	if err != nil {
		return nil, err
	}

	if !repository.IsReadOnly(query) {
		s.log.Info("write statement executed", "keyword", repository.Keyword(query), "rows_affected", result.RowsAffected)
		s.changed(ctx, strings.ToLower(repository.Keyword(query)), 0)
	}
	return result, nil
}

func (s *Service) LiveQuery(req *model.ExportRequest) (live.Query, error) {
	switch req.Mode {
	case model.ModeSQL:
		if strings.TrimSpace(req.SQL) == "" {
			return live.Query{}, nil
		}
		if !repository.IsReadOnly(req.SQL) {
			return live.Query{}, apperrors.BadRequest("live queries must be read-only", nil)
		}
		return live.Query{SQL: req.SQL}, nil
	default:
		if strings.TrimSpace(req.Value) == "" {
			return live.Query{}, nil
		}
		sql, args, err := s.repo.SearchQuery(req.Field, req.Value)
		if err != nil {
			return live.Query{}, err
		}
		return live.Query{SQL: sql, Params: args}, nil
	}
}

func (s *Service) Records(ctx context.Context, req *model.ExportRequest) (*model.QueryResult, error) {
	switch req.Mode {
	case model.ModeSQL:
		return s.ExecuteSQL(ctx, req.SQL)
	default:
		patients, err := s.Search(ctx, &model.SearchRequest{Field: req.Field, Value: req.Value})
		if err != nil {
			return nil, err
		}
		return model.PatientResult(patients), nil
	}
}

func (s *Service) ExportRecords(ctx context.Context, req *model.ExportRequest) (*model.QueryResult, error) {
	if req.Mode == model.ModeSQL && strings.TrimSpace(req.SQL) != "" && !repository.IsReadOnly(req.SQL) {
		return nil, apperrors.BadRequest("only read-only statements can be exported", nil)
	}
	return s.Records(ctx, req)
}

// WatchChanges flushes the search cache on every change notification,
// including those published by other processes, until ctx is done.
func (s *Service) WatchChanges(ctx context.Context) error {
	if s.broker == nil {
		return nil
	}
	changes, err := s.broker.Subscribe(ctx, messaging.TopicPatientsChanged)
	if err != nil {
		return err
	}
	go func() {
		for range changes {
			s.flushCache()
		}
	}()
	return nil
}

func (s *Service) cacheGeneration() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cacheGen
}

func (s *Service) flushCache() {
	s.cacheMu.Lock()
	s.cacheGen++
	s.cache.Flush()
	s.cacheMu.Unlock()
}

func (s *Service) changed(ctx context.Context, op string, id int64) {
	s.flushCache()
	if s.broker == nil {
		return
	}
	err := messaging.PublishChange(ctx, s.broker, messaging.ChangeEvent{
		Table:     "patients",
		Operation: op,
		ID:        id,
		Source:    s.source,
	})
	status := "ok"
	if err != nil {
		status = "error"
		s.log.Error(err, "failed to publish change", "operation", op)
	}
	if s.metrics != nil {
		s.metrics.BrokerPublishes.WithLabelValues(messaging.TopicPatientsChanged, status).Inc()
	}
}

func (s *Service) sendEmail(patient *model.Patient) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emailTimeout)
		defer cancel()
		if err := s.email.SendRegistration(ctx, patient); err != nil {
			s.log.Error(err, "registration email failed", "patient_id", patient.ID)
		}
	}()
}

func (s *Service) countRegistration(status string) {
	if s.metrics != nil {
		s.metrics.Registrations.WithLabelValues(status).Inc()
	}
}

func (s *Service) countQuery(mode model.QueryMode, status string) {
	if s.metrics != nil {
		s.metrics.Queries.WithLabelValues(string(mode), status).Inc()
	}
}

func (s *Service) observeQuery(mode model.QueryMode, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryLatency.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "canceled"
	case apperrors.IsBadRequest(err):
		status = "invalid"
	default:
		status = "error"
	}
	s.countQuery(mode, status)
}

var _ PatientService = (*Service)(nil)

