package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/timeutil"
)

// requestValidator validates request DTOs before they reach the handlers.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Ошибки называют поля так же, как они выглядят в JSON.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("idemkey", func(fl validator.FieldLevel) bool {
		return shared.IdempotencyKey(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := timeutil.ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("scope", func(fl validator.FieldLevel) bool {
		return shared.ScopeID(fl.Field().String()).IsValid()
	})
	return &requestValidator{v: v}
}

// bind decodes the JSON body into dst and validates it. On failure the
// response is already written and false is returned.
func (s *Server) bind(c *gin.Context, dst any) bool {
	return s.decode(c, dst) && s.check(c, dst)
}

// decode reads the JSON body into dst without validating it.
func (s *Server) decode(c *gin.Context, dst any) bool {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return false
		}
		writeError(c, http.StatusBadRequest, "validation_error", "malformed JSON body", err.Error())
		return false
	}
	return true
}

// check validates an already populated DTO.
func (s *Server) check(c *gin.Context, dst any) bool {
	if err := s.validate.v.Struct(dst); err != nil {
		msgs := formatValidationError(err)
		writeError(c, http.StatusBadRequest, "validation_error", "invalid request", msgs...)
		return false
	}
	return true
}

func formatValidationError(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldErrorMessage(fe))
	}
	return out
}

func fieldErrorMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return field + ": required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s: at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s: at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s: at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s: at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", field, fe.Param())
	case "idemkey":
		return field + ": must be 8-128 characters of [A-Za-z0-9_.:-]"
	case "date":
		return field + ": must be a YYYY-MM-DD date"
	case "scope":
		return field + ": must be 1-64 characters of [a-z0-9_.:-]"
	case "datetime":
		return field + ": must match layout " + fe.Param()
	default:
		return field + ": invalid"
	}
}
