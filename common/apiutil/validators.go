package apiutil

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

// Validator checks request structs and reports failures with json field names.
type Validator struct {
	validator *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("side", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseSide(fl.Field().String())
		return ok
	})
	return &Validator{validator: v}
}

// Validate returns nil or an INVALID_REQUEST error naming each failed field.
// A failed side check maps to INVALID_ORDER_SIDE and a failed quantity check
// to INVALID_QUANTITY so clients see the catalogue code.
func (v *Validator) Validate(i interface{}) error {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}
	var fieldsError validator.ValidationErrors
	if !errors.As(err, &fieldsError) {
		return errors.InvalidRequest.Wrap(err)
	}
	fields := make([]string, 0, len(fieldsError))
	for _, fieldErr := range fieldsError {
		switch {
		case fieldErr.Tag() == "side":
			return errors.InvalidOrderSide
		case fieldErr.Field() == "amount" || fieldErr.Field() == "quantity":
			return errors.InvalidQuantity
		}
		fields = append(fields, fieldErr.Field()+":"+fieldErr.Tag())
	}
	return errors.InvalidRequest.Explain("validation failed on %s", strings.Join(fields, ", "))
}
