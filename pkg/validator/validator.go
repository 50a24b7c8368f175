package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps the go-playground validator
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a validation error for a single field
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// New creates a new Validator instance
func New() *Validator {
	v := validator.New()

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register custom validations
	_ = v.RegisterValidation("operator", validateOperator)
	_ = v.RegisterValidation("rhs_type", validateRHSType)
	_ = v.RegisterValidation("evaluation_period", validateEvaluationPeriod)
	_ = v.RegisterValidation("market", validateMarket)

	return &Validator{validate: v}
}

// Validate validates a struct and returns validation errors
func (v *Validator) Validate(i interface{}) []ValidationError {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var errors []ValidationError
	for _, err := range err.(validator.ValidationErrors) {
		errors = append(errors, ValidationError{
			Field:   err.Field(),
			Tag:     err.Tag(),
			Value:   err.Param(),
			Message: getErrorMessage(err),
		})
	}

	return errors
}

// ValidateVar validates a single variable
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	return v.validate.Var(field, tag)
}

func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "gt":
		return "Value must be greater than " + err.Param()
	case "gte":
		return "Value must be greater than or equal to " + err.Param()
	case "lt":
		return "Value must be less than " + err.Param()
	case "lte":
		return "Value must be less than or equal to " + err.Param()
	case "email":
		return "Invalid email format"
	case "oneof":
		return "Value must be one of: " + err.Param()
	case "operator":
		return "Invalid comparison operator"
	case "rhs_type":
		return "Invalid rhs type"
	case "evaluation_period":
		return "Invalid evaluation period"
	case "market":
		return "Invalid market"
	default:
		return "Invalid value"
	}
}

// Custom validators

func validateOperator(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	default:
		return false
	}
}

func validateRHSType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "constant", "trend_line":
		return true
	default:
		return false
	}
}

func validateEvaluationPeriod(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if v == "" {
		return true // optional, static conditions carry none
	}
	switch v {
	case "now", "x_bar_ago", "within_last", "in_row":
		return true
	default:
		return false
	}
}

func validateMarket(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "india", "us":
		return true
	default:
		return false
	}
}
