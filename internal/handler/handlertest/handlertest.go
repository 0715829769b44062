// Package handlertest holds the doubles shared by the handler tests.
package handlertest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"

	"github.com/jwalitptl/patient-registry/internal/live"
	"github.com/jwalitptl/patient-registry/internal/middleware"
	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/internal/service/patient"
	"github.com/jwalitptl/patient-registry/pkg/logger"
)

// PatientService is a testify mock of patient.PatientService.
type PatientService struct {
	mock.Mock
}

var _ patient.PatientService = (*PatientService)(nil)

func (m *PatientService) Register(ctx context.Context, req *model.RegisterPatientRequest) (*model.Patient, error) {
	args := m.Called(ctx, req)
	if p := args.Get(0); p != nil {
		return p.(*model.Patient), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *PatientService) GetPatient(ctx context.Context, id int64) (*model.Patient, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*model.Patient), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *PatientService) GetPhoto(ctx context.Context, id int64) ([]byte, error) {
	args := m.Called(ctx, id)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *PatientService) Search(ctx context.Context, req *model.SearchRequest) ([]*model.Patient, error) {
	args := m.Called(ctx, req)
	if p := args.Get(0); p != nil {
		return p.([]*model.Patient), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *PatientService) ExecuteSQL(ctx context.Context, query string) (*model.QueryResult, error) {
	args := m.Called(ctx, query)
	return result(args)
}

func (m *PatientService) LiveQuery(req *model.ExportRequest) (live.Query, error) {
	args := m.Called(req)
	return args.Get(0).(live.Query), args.Error(1)
}

func (m *PatientService) Records(ctx context.Context, req *model.ExportRequest) (*model.QueryResult, error) {
	args := m.Called(ctx, req)
	return result(args)
}

func (m *PatientService) ExportRecords(ctx context.Context, req *model.ExportRequest) (*model.QueryResult, error) {
	args := m.Called(ctx, req)
	return result(args)
}

func result(args mock.Arguments) (*model.QueryResult, error) {
	if r := args.Get(0); r != nil {
		return r.(*model.QueryResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// Route is the subset of router.Handler the helpers need.
type Route interface {
	RegisterRoutes(*gin.RouterGroup)
}

// NewEngine mounts h under prefix behind the error middleware, the way the
// router does.
func NewEngine(prefix string, h Route) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(middleware.ErrorHandler(logger.Nop()))
	h.RegisterRoutes(engine.Group(prefix))
	return engine
}

// Do serves one request and returns the recorded response.
func Do(engine http.Handler, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// StreamRecorder is a ResponseRecorder that gin can stream to.
type StreamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func NewStreamRecorder() *StreamRecorder {
	return &StreamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
}

func (r *StreamRecorder) CloseNotify() <-chan bool {
	return r.closed
}
