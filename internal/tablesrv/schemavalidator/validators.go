package schemavalidator

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/floorbook/floorbook/internal/tablesrv/cellvalue"
)

// MaxNameLength bounds table, tab and column names, in runes.
const MaxNameLength = 255

// notBlank fails empty and whitespace only strings.
func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// nameValidator accepts non-blank names of at most MaxNameLength runes with
// no control characters.
func nameValidator(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.TrimSpace(s) == "" || !utf8.ValidString(s) {
		return false
	}
	if utf8.RuneCountInString(s) > MaxNameLength {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// cellKindValidator checks the field names a recognised value kind.
func cellKindValidator(fl validator.FieldLevel) bool {
	return cellvalue.Kind(fl.Field().String()).IsValid()
}

func registerValidators(v *validator.Validate) {
	v.RegisterValidation("notBlank", notBlank)
	v.RegisterValidation("nameValidator", nameValidator)
	v.RegisterValidation("cellKind", cellKindValidator)
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		return GetJSONTag(field)
	})
}

// ValidationError is one failed field.
type ValidationError struct {
	Field  string // json path of the field
	Value  any    // offending value
	ErrStr string // what is wrong
}

func (ve ValidationError) Error() string {
	if len(ve.Field) > 0 {
		return ve.Field + ": " + ve.ErrStr
	}
	return ve.ErrStr
}

// ValidationErrors collects every failed field of a struct.
type ValidationErrors []ValidationError

func (ves ValidationErrors) Error() string {
	parts := make([]string, len(ves))
	for i, ve := range ves {
		parts[i] = ve.Error()
	}
	return strings.Join(parts, "; ")
}

// Check validates s and translates validator errors into ValidationErrors
// keyed by json path. It returns nil when s is valid.
func Check(s any) ValidationErrors {
	err := V().Struct(s)
	if err == nil {
		return nil
	}
	validatorErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{ErrStr: err.Error()}}
	}

	var out ValidationErrors
	for _, e := range validatorErrors {
		field := jsonPath(e.Namespace())
		ve := ValidationError{Field: field, Value: e.Value()}
		switch e.Tag() {
		case "required", "notBlank":
			ve.ErrStr = "missing required attribute"
		case "nameValidator":
			ve.ErrStr = fmt.Sprintf("invalid name; must be non-blank, at most %d characters, without control characters", MaxNameLength)
		case "cellKind":
			ve.ErrStr = fmt.Sprintf("unrecognized value kind %q", e.Value())
		case "max":
			ve.ErrStr = "must have at most " + e.Param() + " entries"
		case "min":
			ve.ErrStr = "must have at least " + e.Param() + " entries"
		case "unique":
			ve.ErrStr = "entries must be unique"
		default:
			ve.ErrStr = fmt.Sprintf("failed %s validation", e.Tag())
		}
		out = append(out, ve)
	}
	return out
}

// jsonPath strips the top level struct name from a validator namespace,
// e.g. "CreateTableRequest.tabs[0].name" becomes "tabs[0].name".
func jsonPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// GetJSONTag retrieves the JSON tag for a given struct field.
// If the JSON tag is not found or is explicitly ignored, it falls back to the field name.
func GetJSONTag(field reflect.StructField) string {
	jsonTag := field.Tag.Get("json")
	if jsonTag == "" || jsonTag == "-" {
		return field.Name
	}
	return strings.Split(jsonTag, ",")[0]
}
