package action

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Validation stages.
const (
	StageInput  = "input"
	StageOutput = "output"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// Violation is one failed constraint.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every constraint an action or result violated.
type ValidationError struct {
	Stage      string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return fmt.Sprintf("%s validation failed: %s", e.Stage, strings.Join(msgs, "; "))
}

// Is makes errors.Is(err, ErrValidation) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsInputError reports whether err is an input-stage ValidationError.
func IsInputError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Stage == StageInput
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names, not Go field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// checkStruct runs tag validation on v and converts failures to violations
// whose field names start with prefix.
func checkStruct(prefix string, v any) []Violation {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Violation{{Field: prefix, Message: fmt.Sprintf("%s: %v", prefix, err)}}
	}

	out := make([]Violation, 0, len(verrs))
	for _, e := range verrs {
		field := prefix + "." + fieldPath(e.Namespace())
		out = append(out, Violation{Field: field, Message: constraintMessage(field, e)})
	}
	return out
}

// fieldPath drops the struct name from a validator namespace:
// "QueryNodesResult.nodes[0].id" becomes "nodes[0].id".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func constraintMessage(field string, e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("%s must be a non-empty string", field)
		}
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

// ValidateResult checks that r is the result shape expected for kind. Any
// mismatch is a *ValidationError with Stage StageOutput.
func ValidateResult(kind Kind, r Result) error {
	var vs []Violation
	switch {
	case r == nil || reflect.ValueOf(r).Kind() == reflect.Ptr && reflect.ValueOf(r).IsNil():
		vs = append(vs, Violation{Field: "result", Message: "result is required"})
	case r.Kind() != kind:
		vs = append(vs, Violation{
			Field:   "result",
			Message: fmt.Sprintf("result has kind %q, expected %q", r.Kind(), kind),
		})
	default:
		vs = append(vs, checkStruct("result", r)...)
		vs = append(vs, checkCount(r)...)
	}
	if len(vs) > 0 {
		return &ValidationError{Stage: StageOutput, Violations: vs}
	}
	return nil
}

func checkCount(r Result) []Violation {
	var n, count int
	var field string
	switch res := r.(type) {
	case QueryNodesResult:
		if res.Nodes == nil {
			return []Violation{{Field: "result.nodes", Message: "result.nodes is required"}}
		}
		n, count, field = len(res.Nodes), res.Count, "nodes"
	case VectorSearchResult:
		if res.Results == nil {
			return []Violation{{Field: "result.results", Message: "result.results is required"}}
		}
		n, count, field = len(res.Results), res.Count, "results"
	default:
		return nil
	}
	if n != count {
		return []Violation{{
			Field:   "result.count",
			Message: fmt.Sprintf("result.count is %d but result.%s has %d entries", count, field, n),
		}}
	}
	return nil
}
