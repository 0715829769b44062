package web

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-registry/internal/handler"
	"github.com/jwalitptl/patient-registry/internal/live"
	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/internal/repository"
	"github.com/jwalitptl/patient-registry/internal/service/patient"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
)

type Handler struct {
	service       patient.PatientService
	repositoryURL string
}

func NewHandler(service patient.PatientService, repositoryURL string) *Handler {
	return &Handler{service: service, repositoryURL: repositoryURL}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/", h.Home)
	r.GET("/patient-registration", h.RegistrationForm)
	r.POST("/patient-registration", h.Register)
	r.GET("/patient-records", h.RecordsDefault)
	r.GET("/patient-records/details/:id", h.Details)
	r.GET("/patient-records/:queryType", h.Records)
	r.POST("/patient-records/sql", h.RunSQL)
}

// datetimeLocal is the value format of <input type="datetime-local">.
const datetimeLocal = "2006-01-02T15:04"

type page struct {
	Title  string
	Active string
}

type homePage struct {
	page
	RepositoryURL string
}

func (h *Handler) Home(c *gin.Context) {
	c.HTML(http.StatusOK, PageHome, homePage{
		page:          page{Title: "Patient Registration", Active: "home"},
		RepositoryURL: h.repositoryURL,
	})
}

type registrationPage struct {
	page
	Form    *model.RegisterPatientRequest
	Errors  map[string]string
	Message string
	Now     string
}

func newRegistrationPage(form *model.RegisterPatientRequest) registrationPage {
	if form == nil {
		form = &model.RegisterPatientRequest{}
	}
	return registrationPage{
		page:   page{Title: "Patient Registration", Active: "registration"},
		Form:   form,
		Errors: map[string]string{},
		Now:    time.Now().Format(datetimeLocal),
	}
}

func (h *Handler) RegistrationForm(c *gin.Context) {
	c.HTML(http.StatusOK, PageRegistration, newRegistrationPage(nil))
}

// Register handles the form post. Validation failures re-render the form with
// the submitted values; success redirects to the new record.
func (h *Handler) Register(c *gin.Context) {
	req, err := handler.BindRegistration(c)
	if err == nil {
		var p *model.Patient
		p, err = h.service.Register(c.Request.Context(), req)
		if err == nil {
			c.Redirect(http.StatusSeeOther, "/patient-records/details/"+strconv.FormatInt(p.ID, 10)+"?registered=1")
			return
		}
	}

	view := newRegistrationPage(req)
	view.Form.Photo = nil
	if ts, perr := model.ParseTimestamp(view.Form.RegistrationDatetime); perr == nil {
		view.Form.RegistrationDatetime = ts.Local().Format(datetimeLocal)
	}
	status, resp := handler.ErrorResponseFor(err)
	view.Message = resp.Message
	if resp.Errors != nil {
		view.Errors = resp.Errors
	}
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}
	c.HTML(status, PageRegistration, view)
}

type recordsPage struct {
	page
	Mode         model.QueryMode
	Options      []model.SearchOption
	Field        model.SearchField
	Value        string
	SQL          string
	Status       live.Status
	Error        string
	Notice       string
	Rows         []recordRow
	RowsAffected int64
	// Live is set when the page may follow the query over the live endpoint.
	Live bool
}

func (p recordsPage) SQLMode() bool { return p.Mode == model.ModeSQL }

func newRecordsPage(mode model.QueryMode) recordsPage {
	return recordsPage{
		page:    page{Title: "Patient Records Search", Active: "records"},
		Mode:    mode,
		Options: model.SearchOptions,
		Field:   model.SearchFirstName,
		Status:  live.StatusIdle,
	}
}

func (h *Handler) RecordsDefault(c *gin.Context) {
	c.Redirect(http.StatusFound, "/patient-records/"+string(model.ModeSimple))
}

// Records renders the query panel. A submitted search or read-only statement
// runs server side and the page then follows it over the live endpoint.
// Statements that write are only pre-filled; they run through RunSQL.
func (h *Handler) Records(c *gin.Context) {
	view := newRecordsPage(model.ParseQueryMode(c.Param("queryType")))
	view.Field = model.SearchField(c.DefaultQuery("field", string(model.SearchFirstName)))
	view.Value = c.Query("value")
	view.SQL = c.Query("sql")

	submitted := view.Value != ""
	if view.SQLMode() {
		submitted = strings.TrimSpace(view.SQL) != ""
		switch {
		case !submitted:
			view.SQL = model.DefaultSQL
		case !repository.IsReadOnly(view.SQL):
			submitted = false
			view.Notice = "Statements that modify data run only when the form is submitted."
		}
	}

	if submitted {
		h.runRecords(c, &view)
		view.Live = true
	}
	c.HTML(http.StatusOK, PageRecords, view)
}

// RunSQL executes a statement posted from the SQL editor. Reads redirect to
// the shareable GET form; writes render their outcome once.
func (h *Handler) RunSQL(c *gin.Context) {
	if !sameOrigin(c.Request) {
		c.HTML(http.StatusForbidden, PageError, errorPage{
			page:    page{Title: http.StatusText(http.StatusForbidden)},
			Message: "cross-origin statements are not accepted",
		})
		return
	}

	view := newRecordsPage(model.ModeSQL)
	view.SQL = c.PostForm("sql")

	if strings.TrimSpace(view.SQL) == "" {
		c.Redirect(http.StatusSeeOther, "/patient-records/"+string(model.ModeSQL))
		return
	}
	if repository.IsReadOnly(view.SQL) {
		c.Redirect(http.StatusSeeOther, "/patient-records/"+string(model.ModeSQL)+"?"+url.Values{"sql": {view.SQL}}.Encode())
		return
	}

	h.runRecords(c, &view)
	c.HTML(http.StatusOK, PageRecords, view)
}

// sameOrigin rejects form posts whose Origin header names another host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

func (h *Handler) runRecords(c *gin.Context, view *recordsPage) {
	req := &model.ExportRequest{Mode: view.Mode, Field: view.Field, Value: view.Value, SQL: view.SQL}
	result, err := h.service.Records(c.Request.Context(), req)
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			c.Error(err)
		}
		_, resp := handler.ErrorResponseFor(err)
		view.Status = live.StatusError
		view.Error = resp.Message
		return
	}
	view.Status = live.StatusSuccess
	view.Rows = recordRows(result.Rows)
	view.RowsAffected = result.RowsAffected
}

type detailsPage struct {
	page
	Patient    *model.Patient
	Registered bool
}

func (h *Handler) Details(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err == nil {
		var p *model.Patient
		p, err = h.service.GetPatient(c.Request.Context(), id)
		if err == nil {
			c.HTML(http.StatusOK, PageDetails, detailsPage{
				page:       page{Title: "Patient Details", Active: "records"},
				Patient:    p,
				Registered: c.Query("registered") != "",
			})
			return
		}
	}

	status, resp := handler.ErrorResponseFor(err)
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}
	c.HTML(status, PageError, errorPage{
		page:    page{Title: http.StatusText(status)},
		Message: resp.Message,
	})
}

type errorPage struct {
	page
	Message string
}
