package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/jwalitptl/patient-registry/internal/model"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
)

// Multipart field names used by the registration form.
const (
	FieldPhoto         = "photo"
	FieldKeyValuePairs = "key_value_pairs"
	FieldPairName      = "kv_name"
	FieldPairData      = "kv_data"
)

// BindRegistration reads a registration from a JSON body or a multipart /
// urlencoded form. Forms carry additional information either as a JSON array
// in key_value_pairs or as repeated kv_name/kv_data fields; rows where both
// are blank are dropped.
func BindRegistration(c *gin.Context) (*model.RegisterPatientRequest, error) {
	var req model.RegisterPatientRequest

	if c.ContentType() == binding.MIMEJSON {
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, apperrors.BadRequest("invalid request body", err)
		}
		return &req, nil
	}

	if err := c.ShouldBind(&req); err != nil {
		return nil, apperrors.BadRequest("invalid form", err)
	}

	if raw := strings.TrimSpace(c.PostForm(FieldKeyValuePairs)); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.KeyValuePairs); err != nil {
			return nil, apperrors.NewValidation(map[string]string{FieldKeyValuePairs: "must be a JSON array of {name, data}"})
		}
	} else {
		req.KeyValuePairs = formPairs(c.PostFormArray(FieldPairName), c.PostFormArray(FieldPairData))
	}

	photo, err := formPhoto(c)
	if err != nil {
		return nil, err
	}
	req.Photo = photo
	return &req, nil
}

func formPairs(names, data []string) []model.KeyValuePair {
	var pairs []model.KeyValuePair
	for i := range names {
		var d string
		if i < len(data) {
			d = data[i]
		}
		if strings.TrimSpace(names[i]) == "" && strings.TrimSpace(d) == "" {
			continue
		}
		pairs = append(pairs, model.KeyValuePair{Name: names[i], Data: d})
	}
	return pairs
}

func formPhoto(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile(FieldPhoto)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.BadRequest("invalid photo upload", err)
	}
	return readPhoto(fh)
}

func readPhoto(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size == 0 {
		return nil, nil
	}
	if fh.Size > model.MaxPhotoBytes {
		return nil, photoTooLarge()
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.BadRequest("invalid photo upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, model.MaxPhotoBytes+1))
	if err != nil {
		return nil, apperrors.BadRequest("invalid photo upload", err)
	}
	if len(data) > model.MaxPhotoBytes {
		return nil, photoTooLarge()
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return nil, apperrors.NewValidation(map[string]string{FieldPhoto: "must be an image"})
	}
	return data, nil
}

func photoTooLarge() error {
	return apperrors.NewValidation(map[string]string{FieldPhoto: "must be at most 5 MB"})
}
