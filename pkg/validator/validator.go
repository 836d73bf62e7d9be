// Package validator wraps go-playground/validator with domain-specific rules.
package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

func (v *Validator) registerCustomValidations() {
	// vpath: a normalized virtual folder path ("/", "/docs", "/docs/tax").
	v.validate.RegisterValidation("vpath", func(fl validator.FieldLevel) bool {
		return IsValidVirtualPath(fl.Field().String())
	})

	// segname: a single path segment, usable as a folder or file name.
	v.validate.RegisterValidation("segname", func(fl validator.FieldLevel) bool {
		return IsValidSegment(fl.Field().String())
	})
}

// IsValidVirtualPath reports whether p is an acceptable virtual folder path.
// Empty and "/" both address the root. Anything else must start with "/",
// must not end with "/", and every segment must be valid.
func IsValidVirtualPath(p string) bool {
	if p == "" || p == "/" {
		return true
	}
	if !strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if !IsValidSegment(seg) {
			return false
		}
	}
	return true
}

// IsValidSegment reports whether name can be used as a single path segment.
func IsValidSegment(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
