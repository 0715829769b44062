package patient

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-registry/internal/handler/handlertest"
	"github.com/jwalitptl/patient-registry/internal/model"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func jsonHeader() http.Header {
	return http.Header{"Content-Type": []string{"application/json"}}
}

type envelope struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

func decode(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestRegisterPatient(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := new(handlertest.PatientService)
		engine := handlertest.NewEngine("/api/v1", NewHandler(svc))

		svc.On("Register", mock.Anything, mock.MatchedBy(func(req *model.RegisterPatientRequest) bool {
			return req.FirstName == "Asha" && len(req.KeyValuePairs) == 1
		})).Return(&model.Patient{ID: 7, FirstName: "Asha"}, nil)

		body := `{"first_name":"Asha","key_value_pairs":[{"name":"blood","data":"O+"}]}`
		w := handlertest.Do(engine, http.MethodPost, "/api/v1/patients", strings.NewReader(body), jsonHeader())

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "/api/v1/patients/7", w.Header().Get("Location"))
		env := decode(t, w.Body.Bytes())
		assert.Equal(t, "success", env.Status)
		assert.Contains(t, string(env.Data), `"first_name":"Asha"`)
		svc.AssertExpectations(t)
	})

	t.Run("validation errors", func(t *testing.T) {
		svc := new(handlertest.PatientService)
		engine := handlertest.NewEngine("/api/v1", NewHandler(svc))

		svc.On("Register", mock.Anything, mock.Anything).
			Return(nil, apperrors.NewValidation(map[string]string{"email": "must be a valid email address"}))

		w := handlertest.Do(engine, http.MethodPost, "/api/v1/patients", strings.NewReader(`{}`), jsonHeader())

		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decode(t, w.Body.Bytes())
		assert.Equal(t, "error", env.Status)
		assert.Equal(t, "must be a valid email address", env.Errors["email"])
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := new(handlertest.PatientService)
		engine := handlertest.NewEngine("/api/v1", NewHandler(svc))

		w := handlertest.Do(engine, http.MethodPost, "/api/v1/patients", strings.NewReader(`{`), jsonHeader())

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
	})

	t.Run("internal error hides cause", func(t *testing.T) {
		svc := new(handlertest.PatientService)
		engine := handlertest.NewEngine("/api/v1", NewHandler(svc))

		svc.On("Register", mock.Anything, mock.Anything).Return(nil, errors.New("disk full"))

		w := handlertest.Do(engine, http.MethodPost, "/api/v1/patients", strings.NewReader(`{}`), jsonHeader())

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "disk full")
	})
}

func TestGetPatient(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		setup  func(*handlertest.PatientService)
		status int
	}{
		{
			name: "found",
			path: "/api/v1/patients/3",
			setup: func(s *handlertest.PatientService) {
				s.On("GetPatient", mock.Anything, int64(3)).Return(&model.Patient{ID: 3}, nil)
			},
			status: http.StatusOK,
		},
		{
			name: "missing",
			path: "/api/v1/patients/4",
			setup: func(s *handlertest.PatientService) {
				s.On("GetPatient", mock.Anything, int64(4)).Return(nil, apperrors.NotFound("patient", nil))
			},
			status: http.StatusNotFound,
		},
		{
			name:   "non numeric id",
			path:   "/api/v1/patients/abc",
			setup:  func(*handlertest.PatientService) {},
			status: http.StatusNotFound,
		},
		{
			name:   "zero id",
			path:   "/api/v1/patients/0",
			setup:  func(*handlertest.PatientService) {},
			status: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(handlertest.PatientService)
			tt.setup(svc)
			engine := handlertest.NewEngine("/api/v1", NewHandler(svc))

			w := handlertest.Do(engine, http.MethodGet, tt.path, nil, nil)

			assert.Equal(t, tt.status, w.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestGetPhoto(t *testing.T) {
	svc := new(handlertest.PatientService)
	svc.On("GetPhoto", mock.Anything, int64(5)).Return(pngHeader, nil)
	engine := handlertest.NewEngine("/api/v1", NewHandler(svc))

	w := handlertest.Do(engine, http.MethodGet, "/api/v1/patients/5/photo", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, pngHeader, w.Body.Bytes())

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	w = handlertest.Do(engine, http.MethodGet, "/api/v1/patients/5/photo", nil, http.Header{"If-None-Match": []string{etag}})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestSearchPatients(t *testing.T) {
	svc := new(handlertest.PatientService)
	svc.On("Search", mock.Anything, &model.SearchRequest{Field: model.SearchCity, Value: "pune"}).
		Return([]*model.Patient{{ID: 1, City: "Pune"}}, nil)
	engine := handlertest.NewEngine("/api/v1", NewHandler(svc))

	w := handlertest.Do(engine, http.MethodGet, "/api/v1/patients/search?field=city&value=pune", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data []model.Patient `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data, 1)
	assert.Equal(t, "Pune", env.Data[0].City)
	svc.AssertExpectations(t)
}
