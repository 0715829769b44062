package patient

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/blake2b"

	"github.com/jwalitptl/patient-registry/internal/handler"
	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/internal/service/patient"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
)

type Handler struct {
	service patient.PatientService
}

func NewHandler(service patient.PatientService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.POST("", h.RegisterPatient)
		patients.GET("/search", h.SearchPatients)
		patients.GET("/:id", h.GetPatient)
		patients.GET("/:id/photo", h.GetPhoto)
	}
}

func (h *Handler) RegisterPatient(c *gin.Context) {
	req, err := handler.BindRegistration(c)
	if err != nil {
		c.Error(err)
		return
	}

	p, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.Header("Location", c.FullPath()+"/"+strconv.FormatInt(p.ID, 10))
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(p))
}

func (h *Handler) GetPatient(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	p, err := h.service.GetPatient(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

// GetPhoto serves the stored photo. The ETag is a BLAKE2b-256 digest so
// thumbnails revalidate with a 304.
func (h *Handler) GetPhoto(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	photo, err := h.service.GetPhoto(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	sum := blake2b.Sum256(photo)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, no-cache")

	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(photo), photo)
}

func (h *Handler) SearchPatients(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(apperrors.BadRequest("invalid search", err))
		return
	}

	patients, err := h.service.Search(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(patients))
}
