package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/digiens-academy/sellibra-backend/internal/api/response"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validRequest checks v's validate tags and writes a 400 listing the
// offending fields when any fail.
func validRequest(w http.ResponseWriter, v any) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request", nil)
		return false
	}
	details := make(map[string]string, len(fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		name := strings.ToLower(f.Field())
		details[name] = f.Tag()
		names = append(names, name)
	}
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
		"Invalid fields: "+strings.Join(names, ", "), details)
	return false
}
