package checkout

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-storefront/internal/commerce"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-.]+$`)

// NewValidator returns a validator with the loose "phone" rule registered
// and field names reported by their json tags.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", validatePhone)
	return v
}

// validatePhone accepts 7 to 15 digits with optional separators and a
// leading plus sign.
func validatePhone(fl validator.FieldLevel) bool {
	value := strings.TrimSpace(fl.Field().String())
	if !phonePattern.MatchString(value) {
		return false
	}
	digits := 0
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7 && digits <= 15
}

// NormalizeAddress trims surrounding whitespace from every field.
func NormalizeAddress(addr commerce.ShippingAddress) commerce.ShippingAddress {
	return commerce.ShippingAddress{
		Details: strings.TrimSpace(addr.Details),
		City:    strings.TrimSpace(addr.City),
		Phone:   strings.TrimSpace(addr.Phone),
	}
}

// ValidateAddress checks the address and returns per-field messages. A nil
// map means the address is valid.
func ValidateAddress(v *validator.Validate, addr commerce.ShippingAddress) map[string]string {
	if v == nil {
		v = NewValidator()
	}
	err := v.Struct(addr)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return map[string]string{"shippingAddress": "is invalid"}
	}
	fields := make(map[string]string, len(validationErrors))
	for _, fieldError := range validationErrors {
		field := fieldError.Field()
		switch fieldError.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		default:
			fields[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return fields
}
