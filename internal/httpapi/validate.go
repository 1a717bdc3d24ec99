package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError names one violated field by its dotted path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError carries every violated field of the section that failed.
type ValidationError struct {
	Issues []FieldError
}

func (e *ValidationError) Error() string {
	return "request validation failed"
}

// Rule describes coercion and constraints for a single query or path
// parameter. Body fields use struct tags instead.
type Rule struct {
	Int      bool
	Required bool
	Default  string
	Min      int
	Max      int
}

// Normalizer lets a body schema canonicalize its fields (trim, lower-case)
// before validation; the handler then sees the normalized value.
type Normalizer interface {
	Normalize()
}

// Schemas configures the Validate middleware. Body returns a fresh schema
// struct per request; Params and Query map parameter names to rules.
type Schemas struct {
	Body   func() any
	Params map[string]Rule
	Query  map[string]Rule
}

// Validate builds a fail-fast validation middleware: sections are processed
// in body, params, query order and the first failing section short-circuits
// with a 400 listing its violated fields. Handlers behind the middleware
// only run on fully validated input.
func Validate(s Schemas) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if s.Body != nil && hasBody(r.Method) {
				dst := s.Body()
				if err := decodeJSON(w, r, dst); err != nil {
					respondValidation(w, r, []FieldError{{Path: "body", Message: err.Error()}})
					return
				}
				if n, ok := dst.(Normalizer); ok {
					n.Normalize()
				}
				if issues := validateStruct(dst); len(issues) > 0 {
					respondValidation(w, r, issues)
					return
				}
				ctx = context.WithValue(ctx, bodyKey, dst)
			}

			if len(s.Params) > 0 {
				values, issues := coerceSection("params", s.Params, r.PathValue)
				if len(issues) > 0 {
					respondValidation(w, r, issues)
					return
				}
				ctx = context.WithValue(ctx, paramsKey, values)
			}

			if len(s.Query) > 0 {
				query := r.URL.Query()
				values, issues := coerceSection("query", s.Query, query.Get)
				if len(issues) > 0 {
					respondValidation(w, r, issues)
					return
				}
				ctx = context.WithValue(ctx, queryKey, values)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type validateCtxKey string

const (
	bodyKey   validateCtxKey = "validated_body"
	paramsKey validateCtxKey = "validated_params"
	queryKey  validateCtxKey = "validated_query"
)

// RequestBody returns the validated, coerced body schema for the request.
// Only meaningful behind a Validate middleware configured with that schema.
func RequestBody[T any](r *http.Request) *T {
	v, _ := r.Context().Value(bodyKey).(*T)
	return v
}

// QueryValues returns the coerced query parameters, if a query schema ran.
func QueryValues(r *http.Request) map[string]any {
	v, _ := r.Context().Value(queryKey).(map[string]any)
	return v
}

// ParamValues returns the coerced path parameters, if a params schema ran.
func ParamValues(r *http.Request) map[string]any {
	v, _ := r.Context().Value(paramsKey).(map[string]any)
	return v
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func respondValidation(w http.ResponseWriter, r *http.Request, issues []FieldError) {
	writeErrorDetails(w, r, http.StatusBadRequest, "request validation failed",
		map[string]any{"issues": issues})
}

var (
	structValidatorOnce sync.Once
	structValidatorInst *validator.Validate
)

// structValidator reports field names by json tag so error paths match the
// wire format rather than Go identifiers.
func structValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		structValidatorInst = v
	})
	return structValidatorInst
}

func validateStruct(dst any) []FieldError {
	err := structValidator().Struct(dst)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Path: "body", Message: "invalid request body"}}
	}
	issues := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, FieldError{
			Path:    "body." + fieldPath(fe),
			Message: fieldMessage(fe),
		})
	}
	return issues
}

// fieldPath strips the schema struct name from the validator namespace,
// leaving the dotted path of the field itself.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed validation on '%s'", fe.Field(), fe.Tag())
	}
}

// coerceSection applies the rules of one section, returning either the
// coerced values or every violation in that section.
func coerceSection(section string, rules map[string]Rule, get func(string) string) (map[string]any, []FieldError) {
	values := make(map[string]any, len(rules))
	var issues []FieldError
	for key, rule := range rules {
		raw := strings.TrimSpace(get(key))
		if raw == "" {
			if rule.Default != "" {
				raw = rule.Default
			} else if rule.Required {
				issues = append(issues, FieldError{
					Path:    section + "." + key,
					Message: fmt.Sprintf("%s is required", key),
				})
				continue
			} else {
				continue
			}
		}
		if !rule.Int {
			values[key] = raw
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			issues = append(issues, FieldError{
				Path:    section + "." + key,
				Message: fmt.Sprintf("%s must be an integer", key),
			})
			continue
		}
		if (rule.Min != 0 || rule.Max != 0) && (n < rule.Min || n > rule.Max) {
			issues = append(issues, FieldError{
				Path:    section + "." + key,
				Message: fmt.Sprintf("%s must be between %d and %d", key, rule.Min, rule.Max),
			})
			continue
		}
		values[key] = n
	}
	if len(issues) > 0 {
		return nil, issues
	}
	return values, nil
}
