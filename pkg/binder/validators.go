package binder

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// uuidValidator ensures the value parses as a version 4 UUID or the empty
// string. The empty string is allowed so that optional identity fields can be
// omitted; add `required` to the validate tag when the field is mandatory.
func uuidValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return false
	}
	return id.Version() == 4
}
