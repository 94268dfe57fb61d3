package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// SetupValidator configures the validator with custom tags
func SetupValidator() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("subdomain", func(fl validator.FieldLevel) bool {
			return tenancy.ValidateSubdomain(fl.Field().String()) == nil
		})
		// Use JSON tag names for field names in errors
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			}
			return name
		})
	}
}

// FormatValidationErrors builds the 400 envelope listing each failed field
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details = make([]dto.ValidationDetail, 0, len(verrs))
		for _, e := range verrs {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: getValidationMessage(e),
			})
		}
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError returns a validation error response
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, c.GetString(RequestIDKey)))
}

const subdomainMessage = "Must be an unreserved subdomain of 3 to 63 lowercase letters, digits and inner hyphens"

// getValidationMessage describes a failed rule for the tags the tenancy
// API binds with
func getValidationMessage(e validator.FieldError) string {
	unit := ""
	if e.Kind() == reflect.String {
		unit = " characters"
	}
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return "Must be at least " + e.Param() + unit
	case "max":
		if e.Kind() == reflect.Slice {
			return "At most " + e.Param() + " entries allowed"
		}
		return "Must be at most " + e.Param() + unit
	case "hostname_rfc1123":
		return "Invalid domain name"
	case "subdomain":
		return subdomainMessage
	case "oneof":
		return "Must be one of: " + strings.ReplaceAll(e.Param(), " ", ", ")
	default:
		return "Invalid value"
	}
}
