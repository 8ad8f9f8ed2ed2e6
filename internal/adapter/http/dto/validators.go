package dto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"fund-gateway/pkg/apperror"
	"fund-gateway/pkg/fixedpoint"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("eth_address", validateEthAddress)
		v.RegisterTagNameFunc(fieldName)
	}
}

// validateEthAddress accepts a 0x-prefixed 20-byte hex address in any case.
func validateEthAddress(fl validator.FieldLevel) bool {
	return IsEthAddress(fl.Field().String())
}

// IsEthAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsEthAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// ValidAmount checks that d is a positive amount with at most six decimals.
// field names the offending JSON field in the error.
func ValidAmount(field string, d *decimal.Decimal) (decimal.Decimal, error) {
	if d == nil {
		return decimal.Zero, apperror.Validation(field + " is required")
	}
	if err := fixedpoint.ValidateAmount(*d); err != nil {
		return decimal.Zero, apperror.Validation(fmt.Sprintf("%s: %s", field, amountReason(err)))
	}
	return *d, nil
}

func amountReason(err error) string {
	switch {
	case errors.Is(err, fixedpoint.ErrTooPrecise):
		return fmt.Sprintf("at most %d decimal places", fixedpoint.Decimals)
	default:
		return "must be greater than zero"
	}
}

// BindingMessage turns a gin binding error into a client-facing message.
func BindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			return field + " is required"
		case "eth_address":
			return field + " must be a 0x-prefixed hex address"
		case "oneof":
			return field + " must be one of: " + fe.Param()
		case "min", "max":
			return fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param())
		}
		return field + " is invalid"
	}
	return "Invalid request body"
}

// fieldName reports validation errors under the name clients send.
func fieldName(fld reflect.StructField) string {
	for _, key := range []string{"json", "form", "uri"} {
		name, _, _ := strings.Cut(fld.Tag.Get(key), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return fld.Name
}

// TrimStrings trims surrounding whitespace from every exported string
// field of a struct pointer.
func TrimStrings(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	rv = rv.Elem()
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if f.CanSet() && f.Kind() == reflect.String {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}
