package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		return field.Tag.Get("form")
	})
	return v
}

// ContactRequest contact form fields
type ContactRequest struct {
	Name         string `form:"name" validate:"required,max=120"`
	Email        string `form:"email" validate:"required,email,max=254"`
	Organization string `form:"organization" validate:"max=200"`
	Phone        string `form:"phone" validate:"max=40"`
	Subject      string `form:"subject" validate:"max=200"`
	Message      string `form:"message" validate:"required,min=10,max=5000"`
}

// contactFromForm picks the known fields; non-string values are treated as absent.
func contactFromForm(form map[string]any) ContactRequest {
	field := func(name string) string {
		value, _ := form[name].(string)
		return value
	}
	return ContactRequest{
		Name:         field("name"),
		Email:        field("email"),
		Organization: field("organization"),
		Phone:        field("phone"),
		Subject:      field("subject"),
		Message:      field("message"),
	}
}

func (r *ContactRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Organization = strings.TrimSpace(r.Organization)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Subject = strings.TrimSpace(r.Subject)
	r.Message = strings.TrimSpace(r.Message)
}

func (r *ContactRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return errBadRequest("invalid submission")
	}

	fe := fieldErrors[0]
	switch fe.Tag() {
	case "required":
		return errBadRequest(fmt.Sprintf("%s is required", fe.Field()))
	case "email":
		return errBadRequest(fmt.Sprintf("%s must be a valid email address", fe.Field()))
	case "min":
		return errBadRequest(fmt.Sprintf("%s is too short", fe.Field()))
	case "max":
		return errBadRequest(fmt.Sprintf("%s is too long", fe.Field()))
	default:
		return errBadRequest(fmt.Sprintf("%s is invalid", fe.Field()))
	}
}

type apiError struct {
	Message string
	Code    int
}

func (e apiError) Error() string {
	return e.Message
}

func errBadRequest(message string) error {
	return apiError{Message: message, Code: http.StatusBadRequest}
}
