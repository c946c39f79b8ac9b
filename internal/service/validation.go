package service

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Printable ASCII without whitespace; QR labels never carry anything else.
var scanCodePattern = regexp.MustCompile(`^[\x21-\x7E]+$`)

// NewValidator returns a validator with the lending-specific rules registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("scancode", func(fl validator.FieldLevel) bool {
		return scanCodePattern.MatchString(fl.Field().String())
	})
	return v
}
