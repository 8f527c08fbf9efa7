// Package schemavalidator holds the shared validator instance and the custom
// tags used by table service request structs.
package schemavalidator

import (
	"github.com/go-playground/validator/v10"
)

var schemaValidator *validator.Validate

func V() *validator.Validate {
	if schemaValidator == nil {
		schemaValidator = validator.New(validator.WithRequiredStructEnabled())
		registerValidators(schemaValidator)
	}
	return schemaValidator
}
