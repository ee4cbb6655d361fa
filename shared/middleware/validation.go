package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/eaglebank/orderflow/shared/utils"
)

var validate = newValidator()

// newValidator reports fields by their JSON names so error details match the
// request body the client sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ErrorResponse struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Details   []ValidationError `json:"details,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func ValidateRequest(obj any) []ValidationError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []ValidationError{{Message: err.Error(), Type: "invalid"}}
	}

	validationErrors := make([]ValidationError, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		validationErrors = append(validationErrors, ValidationError{
			Field:   fe.Field(),
			Message: getErrorMsg(fe),
			Type:    fe.Tag(),
		})
	}
	return validationErrors
}

func getErrorMsg(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "gt":
		return "Value must be greater than " + err.Param()
	case "gte":
		return "Value must be greater than or equal to " + err.Param()
	case "lt":
		return "Value must be less than " + err.Param()
	default:
		return "Invalid value"
	}
}

// RespondWithValidationError writes the 400 body clients of the original
// services expect for missing fields. message names the required fields.
func RespondWithValidationError(c *gin.Context, message string, validationErrors []ValidationError) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Success:   false,
		Error:     "Missing required fields",
		Message:   message,
		Details:   validationErrors,
		Timestamp: utils.Now(),
	})
}

func RespondWithError(c *gin.Context, code int, errorText, message string) {
	c.JSON(code, ErrorResponse{
		Success:   false,
		Error:     errorText,
		Message:   message,
		Timestamp: utils.Now(),
	})
}
