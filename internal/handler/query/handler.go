package query

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-registry/internal/handler"
	"github.com/jwalitptl/patient-registry/internal/live"
	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/internal/service/export"
	"github.com/jwalitptl/patient-registry/internal/service/patient"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
)

// LivePath is served without a request deadline.
const LivePath = "/live"

const keepAliveInterval = 20 * time.Second

type Handler struct {
	service  patient.PatientService
	exporter *export.Service
	hub      live.Subscriber
}

func NewHandler(service patient.PatientService, exporter *export.Service, hub live.Subscriber) *Handler {
	return &Handler{service: service, exporter: exporter, hub: hub}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/query", h.ExecuteSQL)
	r.POST("/export", h.Export)
	r.GET(LivePath, h.Live)
}

func (h *Handler) ExecuteSQL(c *gin.Context) {
	var req model.SQLRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Error(apperrors.BadRequest("invalid request body", err))
		return
	}

	result, err := h.service.ExecuteSQL(c.Request.Context(), req.SQL)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) Export(c *gin.Context) {
	var req model.ExportRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Error(apperrors.BadRequest("invalid request body", err))
		return
	}
	req.Mode = model.ParseQueryMode(string(req.Mode))

	result, err := h.service.ExportRecords(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	data, name, err := h.exporter.Bytes(result.Rows)
	if err != nil {
		c.Error(err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, export.ContentType, data)
}

// Live streams the status-tagged result of a query as Server-Sent Events and
// sends it again every time the patients table changes.
func (h *Handler) Live(c *gin.Context) {
	var req model.ExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(apperrors.BadRequest("invalid query", err))
		return
	}
	req.Mode = model.ParseQueryMode(string(req.Mode))

	q, err := h.service.LiveQuery(&req)
	if err != nil {
		c.Error(err)
		return
	}

	ctx := c.Request.Context()
	w := live.NewWatcher(ctx, h.hub)
	defer w.Close()
	w.Set(q)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	updates := w.Updates()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-w.Done():
			return false
		case r := <-updates:
			c.SSEvent("result", r)
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
		}
		return true
	})
}
