package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
)

type Response struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// ErrorResponseFor renders err, exposing the message only for AppErrors.
func ErrorResponseFor(err error) (int, *Response) {
	appErr, ok := apperrors.As(err)
	if !ok {
		return http.StatusInternalServerError, NewErrorResponse("internal server error")
	}
	resp := NewErrorResponse(appErr.Message)
	resp.Errors = appErr.Fields
	if appErr.Code == apperrors.ErrInternal {
		resp.Message = "internal server error"
	}
	return appErr.StatusCode(), resp
}

// ParseID reads a positive integer path parameter.
func ParseID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewNotFound("patient", err)
	}
	return id, nil
}
