package records

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidationError reports the first field that failed validation.
type ValidationError struct {
	Collection string
	Field      string
	Tag        string
	Msg        string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid record")
	if e.Collection != "" {
		b.WriteString(" ")
		b.WriteString(e.Collection)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	if e.Tag != "" {
		fmt.Fprintf(&b, " failed %s", e.Tag)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// GetValidator returns the process-wide validator with the protocol formats registered:
// did, aturi and rfc3339.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonFieldName)
		_ = v.RegisterValidation("did", func(fl validator.FieldLevel) bool {
			return strings.HasPrefix(fl.Field().String(), "did:")
		})
		_ = v.RegisterValidation("aturi", func(fl validator.FieldLevel) bool {
			return strings.HasPrefix(fl.Field().String(), "at://")
		})
		_ = v.RegisterValidation("rfc3339", func(fl validator.FieldLevel) bool {
			_, err := time.Parse(time.RFC3339Nano, fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// ValidateStruct runs struct tags against s and converts the first failure into a *ValidationError.
func ValidateStruct(s any) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: trimNamespace(fe.Namespace()), Tag: fe.Tag(), Msg: describe(fe)}
	}
	return &ValidationError{Msg: err.Error()}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// trimNamespace drops the root struct name from "RoomRecord.settings.slowModeSeconds".
func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "exceeds maximum " + fe.Param()
	case "min":
		return "below minimum " + fe.Param()
	case "did":
		return "expected DID"
	case "aturi":
		return "expected AT-URI"
	case "rfc3339":
		return "expected RFC3339 datetime"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}
