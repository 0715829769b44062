package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-registry/internal/model"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
	"github.com/jwalitptl/patient-registry/pkg/messaging"
	"github.com/jwalitptl/patient-registry/pkg/metrics"
)

type mockPatientRepo struct {
	mock.Mock
}

func (m *mockPatientRepo) Create(ctx context.Context, p *model.Patient) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockPatientRepo) Get(ctx context.Context, id int64) (*model.Patient, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*model.Patient), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPatientRepo) Search(ctx context.Context, field model.SearchField, value string) ([]*model.Patient, error) {
	args := m.Called(ctx, field, value)
	if p := args.Get(0); p != nil {
		return p.([]*model.Patient), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPatientRepo) SearchQuery(field model.SearchField, value string) (string, []interface{}, error) {
	args := m.Called(field, value)
	var params []interface{}
	if p := args.Get(1); p != nil {
		params = p.([]interface{})
	}
	return args.String(0), params, args.Error(2)
}

func (m *mockPatientRepo) Photo(ctx context.Context, id int64) ([]byte, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPatientRepo) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// batchRepo adds bulk inserts to mockPatientRepo.
type batchRepo struct {
	*mockPatientRepo
}

func (m batchRepo) CreateMany(ctx context.Context, patients []*model.Patient) error {
	return m.Called(ctx, patients).Error(0)
}

type mockQueryRepo struct {
	mock.Mock
}

func (m *mockQueryRepo) Query(ctx context.Context, query string, params ...interface{}) (*model.QueryResult, error) {
	args := m.Called(ctx, query)
	if r := args.Get(0); r != nil {
		return r.(*model.QueryResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type captureEmail struct {
	sent chan *model.Patient
	err  error
}

func (c *captureEmail) SendRegistration(ctx context.Context, p *model.Patient) error {
	c.sent <- p
	return c.err
}

func validRequest() *model.RegisterPatientRequest {
	return &model.RegisterPatientRequest{
		RegistrationDatetime: "2024-05-01T10:30:00Z",
		FirstName:            "Asha",
		LastName:             "Rao",
		Sex:                  "female",
		DOB:                  "1990-02-14",
		PhoneNumber:          "+919876543210",
		Email:                "asha.rao@example.com",
		AddressLine1:         "12 MG Road",
		City:                 "Bengaluru",
		State:                "Karnataka",
		PostalCode:           "560001",
		Reason:               "Annual checkup",
	}
}

type fixture struct {
	svc     *Service
	repo    *mockPatientRepo
	query   *mockQueryRepo
	broker  *messaging.MemoryBroker
	email   *captureEmail
	changes <-chan []byte
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   &mockPatientRepo{},
		query:  &mockQueryRepo{},
		broker: messaging.NewMemoryBroker(8),
		email:  &captureEmail{sent: make(chan *model.Patient, 8)},
	}
	t.Cleanup(func() { f.broker.Close() })

	changes, err := f.broker.Subscribe(context.Background(), messaging.TopicPatientsChanged)
	require.NoError(t, err)
	f.changes = changes

	f.svc = NewService(f.repo, f.query, Options{
		Broker:  f.broker,
		Email:   f.email,
		Metrics: metrics.New("test"),
		Source:  "test",
	})
	return f
}

func (f *fixture) nextChange(t *testing.T) messaging.ChangeEvent {
	t.Helper()
	select {
	case payload := <-f.changes:
		ev, err := messaging.DecodeChange(payload)
		require.NoError(t, err)
		return ev
	case <-time.After(time.Second):
		t.Fatal("no change published")
		return messaging.ChangeEvent{}
	}
}

func (f *fixture) noChange(t *testing.T) {
	t.Helper()
	select {
	case <-f.changes:
		t.Fatal("unexpected change published")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := setup(t)
		f.repo.On("Create", ctx, mock.MatchedBy(func(p *model.Patient) bool {
			return p.FirstName == "Asha" && model.StringValue(p.LastName) == "Rao" && p.AddressLine2 == nil
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*model.Patient).ID = 42
		}).Return(nil)

		p, err := f.svc.Register(ctx, validRequest())
		require.NoError(t, err)
		assert.Equal(t, int64(42), p.ID)

		ev := f.nextChange(t)
		assert.Equal(t, "insert", ev.Operation)
		assert.Equal(t, int64(42), ev.ID)
		assert.Equal(t, "test", ev.Source)

		select {
		case sent := <-f.email.sent:
			assert.Equal(t, int64(42), sent.ID)
		case <-time.After(time.Second):
			t.Fatal("registration email not sent")
		}
		f.repo.AssertExpectations(t)
	})

	t.Run("validation failure never reaches the repository", func(t *testing.T) {
		f := setup(t)
		req := validRequest()
		req.Email = "not-an-email"
		req.Sex = "x"

		_, err := f.svc.Register(ctx, req)
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "must be a valid email address", appErr.Fields["email"])
		assert.Contains(t, appErr.Fields, "sex")
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		f.noChange(t)
	})

	t.Run("unparseable registration time", func(t *testing.T) {
		f := setup(t)
		req := validRequest()
		req.RegistrationDatetime = "tomorrow"

		_, err := f.svc.Register(ctx, req)
		assert.True(t, apperrors.IsBadRequest(err))
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("repository failure", func(t *testing.T) {
		f := setup(t)
		f.repo.On("Create", ctx, mock.Anything).Return(errors.New("disk full"))

		_, err := f.svc.Register(ctx, validRequest())
		assert.EqualError(t, err, "disk full")
		f.noChange(t)
	})
}

func TestGetPatient(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.GetPatient(ctx, 0)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = f.svc.GetPhoto(ctx, -1)
	assert.True(t, apperrors.IsNotFound(err))

	f.repo.On("Get", ctx, int64(7)).Return(&model.Patient{ID: 7}, nil)
	p, err := f.svc.GetPatient(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)

	f.repo.On("Photo", ctx, int64(7)).Return([]byte{1, 2}, nil)
	photo, err := f.svc.GetPhoto(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, photo)
}

func TestRegisterMany(t *testing.T) {
	ctx := context.Background()
	second := validRequest()
	second.FirstName = "Ravi"

	t.Run("batch repositories store in one call with one change event", func(t *testing.T) {
		f := setup(t)
		repo := batchRepo{f.repo}
		f.svc = NewService(repo, f.query, Options{Broker: f.broker, Email: f.email, Source: "test"})
		repo.On("CreateMany", ctx, mock.MatchedBy(func(ps []*model.Patient) bool {
			return len(ps) == 2 && ps[0].FirstName == "Asha" && ps[1].FirstName == "Ravi"
		})).Return(nil).Once()

		got, err := f.svc.RegisterMany(ctx, []*model.RegisterPatientRequest{validRequest(), second})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		ev := f.nextChange(t)
		assert.Equal(t, "insert", ev.Operation)
		f.noChange(t)
		repo.AssertExpectations(t)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("one invalid record stores nothing", func(t *testing.T) {
		f := setup(t)
		bad := validRequest()
		bad.Email = "nope"

		_, err := f.svc.RegisterMany(ctx, []*model.RegisterPatientRequest{validRequest(), bad})
		assert.ErrorContains(t, err, "record 2")
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Contains(t, appErr.Fields, "email")
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		f.noChange(t)
	})

	t.Run("plain repositories store row by row", func(t *testing.T) {
		f := setup(t)
		f.repo.On("Create", ctx, mock.Anything).Return(nil).Twice()

		got, err := f.svc.RegisterMany(ctx, []*model.RegisterPatientRequest{validRequest(), second})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		f.nextChange(t)
		f.noChange(t)
		f.repo.AssertNumberOfCalls(t, "Create", 2)
	})

	t.Run("count", func(t *testing.T) {
		f := setup(t)
		f.repo.On("Count", ctx).Return(int64(12), nil)
		n, err := f.svc.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(12), n)
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to first name and caches", func(t *testing.T) {
		f := setup(t)
		found := []*model.Patient{{ID: 1, FirstName: "Asha"}}
		f.repo.On("Search", ctx, model.SearchFirstName, "as").Return(found, nil).Once()

		got, err := f.svc.Search(ctx, &model.SearchRequest{Value: "as"})
		require.NoError(t, err)
		assert.Equal(t, found, got)

		got, err = f.svc.Search(ctx, &model.SearchRequest{Field: model.SearchFirstName, Value: "as"})
		require.NoError(t, err)
		assert.Equal(t, found, got)
		f.repo.AssertNumberOfCalls(t, "Search", 1)
	})

	t.Run("writes flush the cache", func(t *testing.T) {
		f := setup(t)
		f.repo.On("Search", ctx, model.SearchCity, "Pune").Return([]*model.Patient{}, nil).Twice()
		f.query.On("Query", ctx, "DELETE FROM patients").Return(&model.QueryResult{RowsAffected: 3}, nil)

		_, err := f.svc.Search(ctx, &model.SearchRequest{Field: model.SearchCity, Value: "Pune"})
		require.NoError(t, err)
		_, err = f.svc.ExecuteSQL(ctx, "DELETE FROM patients")
		require.NoError(t, err)
		_, err = f.svc.Search(ctx, &model.SearchRequest{Field: model.SearchCity, Value: "Pune"})
		require.NoError(t, err)
		f.repo.AssertNumberOfCalls(t, "Search", 2)
	})

	t.Run("a search overlapping a write is not cached", func(t *testing.T) {
		f := setup(t)
		entered, release := make(chan struct{}), make(chan struct{})
		stale := []*model.Patient{{ID: 1, FirstName: "Asha"}}
		fresh := []*model.Patient{{ID: 1, FirstName: "Asha"}, {ID: 2, FirstName: "Asif"}}
		f.repo.On("Search", ctx, model.SearchFirstName, "as").Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).Return(stale, nil).Once()
		f.repo.On("Search", ctx, model.SearchFirstName, "as").Return(fresh, nil).Once()
		f.query.On("Query", ctx, "DELETE FROM patients WHERE id = 9").Return(&model.QueryResult{RowsAffected: 1}, nil)

		done := make(chan []*model.Patient)
		go func() {
			got, _ := f.svc.Search(ctx, &model.SearchRequest{Value: "as"})
			done <- got
		}()
		<-entered
		_, err := f.svc.ExecuteSQL(ctx, "DELETE FROM patients WHERE id = 9")
		require.NoError(t, err)
		close(release)
		assert.Equal(t, stale, <-done)

		got, err := f.svc.Search(ctx, &model.SearchRequest{Value: "as"})
		require.NoError(t, err)
		assert.Equal(t, fresh, got)
		f.repo.AssertNumberOfCalls(t, "Search", 2)
	})

	t.Run("change notifications flush the cache", func(t *testing.T) {
		f := setup(t)
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		require.NoError(t, f.svc.WatchChanges(watchCtx))

		f.repo.On("Search", ctx, model.SearchCity, "Pune").Return([]*model.Patient{}, nil)
		_, err := f.svc.Search(ctx, &model.SearchRequest{Field: model.SearchCity, Value: "Pune"})
		require.NoError(t, err)

		require.NoError(t, messaging.PublishChange(ctx, f.broker, messaging.ChangeEvent{Table: "patients", Operation: "insert", Source: "elsewhere"}))
		assert.Eventually(t, func() bool { return f.svc.cache.ItemCount() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("invalid requests", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.Search(ctx, &model.SearchRequest{Field: "photo", Value: "x"})
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "is not a searchable column", appErr.Fields["field"])

		_, err = f.svc.Search(ctx, &model.SearchRequest{Value: "  "})
		assert.True(t, apperrors.IsBadRequest(err))
		f.repo.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestExecuteSQL(t *testing.T) {
	ctx := context.Background()

	t.Run("blank statement", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.ExecuteSQL(ctx, " \n ")
		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "is required", appErr.Fields["sql"])
	})

	t.Run("reads do not publish", func(t *testing.T) {
		f := setup(t)
		want := &model.QueryResult{Fields: []model.Field{{Name: "n"}}, Rows: []model.Row{{"n": int64(1)}}}
		f.query.On("Query", ctx, "SELECT 1 AS n").Return(want, nil)

		got, err := f.svc.ExecuteSQL(ctx, "SELECT 1 AS n")
		require.NoError(t, err)
		assert.Equal(t, want, got)
		f.noChange(t)
	})

	t.Run("writes publish a change", func(t *testing.T) {
		f := setup(t)
		f.query.On("Query", ctx, "update patients set city = 'Pune'").Return(&model.QueryResult{RowsAffected: 2}, nil)

		got, err := f.svc.ExecuteSQL(ctx, "update patients set city = 'Pune'")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.RowsAffected)
		assert.Equal(t, "update", f.nextChange(t).Operation)
	})

	t.Run("engine errors pass through", func(t *testing.T) {
		f := setup(t)
		f.query.On("Query", ctx, "SELEC 1").Return(nil, apperrors.BadRequest(`near "SELEC": syntax error`, nil))

		_, err := f.svc.ExecuteSQL(ctx, "SELEC 1")
		assert.True(t, apperrors.IsBadRequest(err))
		f.noChange(t)
	})
}

func TestLiveQuery(t *testing.T) {
	f := setup(t)

	q, err := f.svc.LiveQuery(&model.ExportRequest{Mode: model.ModeSimple, Value: " "})
	require.NoError(t, err)
	assert.True(t, q.Blank())

	f.repo.On("SearchQuery", model.SearchCity, "Pune").Return("SELECT ... LIKE ?", []interface{}{"%Pune%"}, nil)
	q, err = f.svc.LiveQuery(&model.ExportRequest{Mode: model.ModeSimple, Field: model.SearchCity, Value: "Pune"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT ... LIKE ?", q.SQL)
	assert.Equal(t, []interface{}{"%Pune%"}, q.Params)

	q, err = f.svc.LiveQuery(&model.ExportRequest{Mode: model.ModeSQL, SQL: "SELECT * FROM patients"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM patients", q.SQL)
	assert.Empty(t, q.Params)

	q, err = f.svc.LiveQuery(&model.ExportRequest{Mode: model.ModeSQL})
	require.NoError(t, err)
	assert.True(t, q.Blank())

	_, err = f.svc.LiveQuery(&model.ExportRequest{Mode: model.ModeSQL, SQL: "DELETE FROM patients"})
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestRecords(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	f.repo.On("Search", ctx, model.SearchEmail, "example").Return([]*model.Patient{{ID: 1, FirstName: "Asha"}}, nil)
	res, err := f.svc.Records(ctx, &model.ExportRequest{Mode: model.ModeSimple, Field: model.SearchEmail, Value: "example"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Asha", res.Rows[0]["first_name"])
	assert.Equal(t, model.PatientFields, res.Fields)

	f.query.On("Query", ctx, "SELECT * FROM patients").Return(&model.QueryResult{Rows: []model.Row{}}, nil)
	res, err = f.svc.ExportRecords(ctx, &model.ExportRequest{Mode: model.ModeSQL, SQL: "SELECT * FROM patients"})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)

	_, err = f.svc.ExportRecords(ctx, &model.ExportRequest{Mode: model.ModeSQL, SQL: "DROP TABLE patients"})
	assert.True(t, apperrors.IsBadRequest(err))
	f.query.AssertNotCalled(t, "Query", ctx, "DROP TABLE patients")
}
