package validator

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
)

// EmailPattern is the same expression the patients table CHECK uses.
var EmailPattern = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)

const (
	PhoneMinLength = 10
	PhoneMaxLength = 15
	DateLayout     = "2006-01-02"
)

var defaultMessages = map[string]string{
	"required":    "is required",
	"sex":         "must be one of male, female, other",
	"phone":       fmt.Sprintf("must be between %d and %d characters", PhoneMinLength, PhoneMaxLength),
	"emailshape":  "must be a valid email address",
	"isodate":     "must be a date in YYYY-MM-DD format",
	"oneof":       "has an unsupported value",
	"max":         "is too long",
	"min":         "is too short",
	"notblank":    "must not be blank",
	"searchfield": "is not a searchable column",
	"imagebytes":  "must be an image",
}

// Validator validates request structs tagged with `validate`.
type Validator struct {
	v        *validator.Validate
	messages map[string]string
}

// New builds a validator with the registry-specific rules registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	must(v.RegisterValidation("sex", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "male", "female", "other":
			return true
		}
		return false
	}))
	must(v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		n := utf8.RuneCountInString(fl.Field().String())
		return n >= PhoneMinLength && n <= PhoneMaxLength
	}))
	must(v.RegisterValidation("emailshape", func(fl validator.FieldLevel) bool {
		return EmailPattern.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil
	}))
	must(v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}))
	must(v.RegisterValidation("imagebytes", func(fl validator.FieldLevel) bool {
		return strings.HasPrefix(http.DetectContentType(fl.Field().Bytes()), "image/")
	}))

	msgs := make(map[string]string, len(defaultMessages))
	for k, m := range defaultMessages {
		msgs[k] = m
	}
	return &Validator{v: v, messages: msgs}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// RegisterValidation adds a custom rule.
func (v *Validator) RegisterValidation(tag string, fn validator.Func, message string) error {
	if err := v.v.RegisterValidation(tag, fn); err != nil {
		return err
	}
	if message != "" {
		v.messages[tag] = message
	}
	return nil
}

// MustRegisterValidation is RegisterValidation for rules wired at startup; it
// panics when the rule cannot be registered.
func (v *Validator) MustRegisterValidation(tag string, fn validator.Func, message string) {
	must(v.RegisterValidation(tag, fn, message))
}

// Validate returns nil or an AppError whose Fields map holds one message per
// failing field, keyed by its json path (e.g. "key_value_pairs[0].name").
func (v *Validator) Validate(obj interface{}) error {
	err := v.v.Struct(obj)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.BadRequest("invalid request", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		key := fieldPath(fe.Namespace())
		if _, seen := fields[key]; seen {
			continue
		}
		fields[key] = v.message(fe)
	}
	return apperrors.NewValidation(fields)
}

func (v *Validator) message(fe validator.FieldError) string {
	if msg, ok := v.messages[fe.Tag()]; ok {
		return msg
	}
	return fe.Error()
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
