package validation

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Pre-compiled regex patterns for validators
var (
	e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
)

// Validator defines the interface for value validators
type Validator interface {
	Validate(value interface{}) error
}

// Rule binds a Validator to a constraint name and validation groups.
// A rule without groups always applies.
type Rule struct {
	constraint string
	groups     []string
	validator  Validator
}

// NewRule creates a property rule
func NewRule(constraint string, v Validator, groups ...string) *Rule {
	return &Rule{constraint: constraint, groups: groups, validator: v}
}

// Name implements schema.PropertyRule
func (r *Rule) Name() string { return r.constraint }

// Groups implements schema.PropertyRule
func (r *Rule) Groups() []string { return r.groups }

// Validate implements schema.PropertyRule
func (r *Rule) Validate(_ context.Context, value interface{}) error {
	return r.validator.Validate(value)
}

// Min requires a number to be at least n, or a string to have at least n characters
func Min(n float64, groups ...string) schema.PropertyRule {
	return NewRule("min", &MinValidator{Min: n}, groups...)
}

// Max requires a number to be at most n, or a string to have at most n characters
func Max(n float64, groups ...string) schema.PropertyRule {
	return NewRule("max", &MaxValidator{Max: n}, groups...)
}

// Pattern requires a string to match re
func Pattern(re *regexp.Regexp, groups ...string) schema.PropertyRule {
	return NewRule("matches", &PatternValidator{Pattern: re}, groups...)
}

// Email requires a valid email address
func Email(groups ...string) schema.PropertyRule {
	return NewRule("isEmail", &EmailValidator{}, groups...)
}

// URL requires an absolute URL
func URL(groups ...string) schema.PropertyRule {
	return NewRule("isUrl", &URLValidator{}, groups...)
}

// Phone requires an E.164 phone number
func Phone(groups ...string) schema.PropertyRule {
	return NewRule("isPhoneNumber", &PhoneValidator{}, groups...)
}

// NotBlank rejects empty or whitespace only strings
func NotBlank(groups ...string) schema.PropertyRule {
	return NewRule("isNotEmpty", &NotBlankValidator{}, groups...)
}

// ArrayMinSize requires a list of at least n items
func ArrayMinSize(n int, groups ...string) schema.PropertyRule {
	return NewRule("arrayMinSize", &MinLengthValidator{MinLength: n}, groups...)
}

// ArrayMaxSize requires a list of at most n items
func ArrayMaxSize(n int, groups ...string) schema.PropertyRule {
	return NewRule("arrayMaxSize", &MaxLengthValidator{MaxLength: n}, groups...)
}

// JSONSchema validates a simple-json value against a JSON schema document
func JSONSchema(document string, groups ...string) schema.PropertyRule {
	return NewRule("jsonSchema", &JSONSchemaValidator{Schema: document}, groups...)
}

// PropertyFunc adapts a function into a property rule
func PropertyFunc(constraint string, fn func(ctx context.Context, value interface{}) error, groups ...string) schema.PropertyRule {
	return &propertyFunc{constraint: constraint, groups: groups, fn: fn}
}

type propertyFunc struct {
	constraint string
	groups     []string
	fn         func(ctx context.Context, value interface{}) error
}

func (p *propertyFunc) Name() string     { return p.constraint }
func (p *propertyFunc) Groups() []string { return p.groups }
func (p *propertyFunc) Validate(ctx context.Context, value interface{}) error {
	return p.fn(ctx, value)
}

// ClassFunc adapts a function into a class rule, run once per record
func ClassFunc(constraint string, fn func(ctx context.Context, item *schema.Record) error, groups ...string) schema.ClassRule {
	return &classFunc{constraint: constraint, groups: groups, fn: fn}
}

type classFunc struct {
	constraint string
	groups     []string
	fn         func(ctx context.Context, item *schema.Record) error
}

func (c *classFunc) Name() string     { return c.constraint }
func (c *classFunc) Groups() []string { return c.groups }
func (c *classFunc) Validate(ctx context.Context, item *schema.Record) error {
	return c.fn(ctx, item)
}

// MinValidator validates minimum values for numbers and string lengths
type MinValidator struct {
	Min float64
}

// Validate implements the Validator interface
func (v *MinValidator) Validate(value interface{}) error {
	if value == nil {
		return nil // Nullable fields are validated separately
	}

	if strVal, ok := value.(string); ok {
		if float64(utf8.RuneCountInString(strVal)) < v.Min {
			return fmt.Errorf("must be at least %v characters", v.Min)
		}
		return nil
	}

	floatVal, ok := toFloat64(value)
	if !ok {
		return fmt.Errorf("expected numeric value")
	}
	if floatVal < v.Min {
		return fmt.Errorf("must be at least %v", v.Min)
	}
	return nil
}

// MaxValidator validates maximum values for numbers and string lengths
type MaxValidator struct {
	Max float64
}

// Validate implements the Validator interface
func (v *MaxValidator) Validate(value interface{}) error {
	if value == nil {
		return nil // Nullable fields are validated separately
	}

	if strVal, ok := value.(string); ok {
		if float64(utf8.RuneCountInString(strVal)) > v.Max {
			return fmt.Errorf("must be at most %v characters", v.Max)
		}
		return nil
	}

	floatVal, ok := toFloat64(value)
	if !ok {
		return fmt.Errorf("expected numeric value")
	}
	if floatVal > v.Max {
		return fmt.Errorf("must be at most %v", v.Max)
	}
	return nil
}

// PatternValidator validates string values against a regex pattern
type PatternValidator struct {
	Pattern *regexp.Regexp
}

// Validate implements the Validator interface
func (v *PatternValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}

	strVal, ok := value.(string)
	if !ok {
		return fmt.Errorf("pattern validation requires string value")
	}

	if !v.Pattern.MatchString(strVal) {
		return fmt.Errorf("does not match required pattern")
	}

	return nil
}

// EmailValidator validates email addresses
type EmailValidator struct{}

// Validate implements the Validator interface
func (v *EmailValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}

	strVal, ok := value.(string)
	if !ok {
		return fmt.Errorf("email validation requires string value")
	}

	if strings.TrimSpace(strVal) == "" {
		return fmt.Errorf("email address cannot be empty")
	}

	// Use net/mail for RFC 5322 compliant email validation
	_, err := mail.ParseAddress(strVal)
	if err != nil {
		return fmt.Errorf("must be a valid email address")
	}

	return nil
}

// URLValidator validates URLs
type URLValidator struct{}

// Validate implements the Validator interface
func (v *URLValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}

	strVal, ok := value.(string)
	if !ok {
		return fmt.Errorf("URL validation requires string value")
	}

	if strings.TrimSpace(strVal) == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	parsedURL, err := url.Parse(strVal)
	if err != nil {
		return fmt.Errorf("must be a valid URL")
	}

	if parsedURL.Scheme == "" {
		return fmt.Errorf("URL must include a scheme (http, https, etc.)")
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must include a host")
	}

	return nil
}

// PhoneValidator validates phone numbers in E.164 format
type PhoneValidator struct{}

// Validate implements the Validator interface
func (v *PhoneValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}

	strVal, ok := value.(string)
	if !ok {
		return fmt.Errorf("phone validation requires string value")
	}

	if strings.TrimSpace(strVal) == "" {
		return fmt.Errorf("phone number cannot be empty")
	}

	if !e164Pattern.MatchString(strVal) {
		return fmt.Errorf("must be a valid phone number in E.164 format (+[country code][number])")
	}

	return nil
}

// NotBlankValidator rejects empty strings
type NotBlankValidator struct{}

// Validate implements the Validator interface
func (v *NotBlankValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}
	if strVal, ok := value.(string); ok && strings.TrimSpace(strVal) == "" {
		return fmt.Errorf("should not be empty")
	}
	return nil
}

// EnumValidator validates that a value is one of the allowed values
type EnumValidator struct {
	Values []string
}

// Validate implements the Validator interface
func (v *EnumValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}
	s := fmt.Sprint(value)
	for _, allowed := range v.Values {
		if s == allowed {
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(v.Values, ", "))
}

// MinLengthValidator validates minimum length for arrays
type MinLengthValidator struct {
	MinLength int
}

// Validate implements the Validator interface
func (v *MinLengthValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}

	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		return fmt.Errorf("min_length validation requires array or slice value")
	}

	if val.Len() < v.MinLength {
		return fmt.Errorf("must contain at least %d items", v.MinLength)
	}

	return nil
}

// MaxLengthValidator validates maximum length for arrays
type MaxLengthValidator struct {
	MaxLength int
}

// Validate implements the Validator interface
func (v *MaxLengthValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}

	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		return fmt.Errorf("max_length validation requires array or slice value")
	}

	if val.Len() > v.MaxLength {
		return fmt.Errorf("must contain at most %d items", v.MaxLength)
	}

	return nil
}

// compiled JSON schemas, keyed by document
var jsonSchemas sync.Map

// JSONSchemaValidator validates a decoded JSON value against a schema document
type JSONSchemaValidator struct {
	Schema string
}

// Validate implements the Validator interface
func (v *JSONSchemaValidator) Validate(value interface{}) error {
	if value == nil {
		return nil
	}

	compiled, err := compileJSONSchema(v.Schema)
	if err != nil {
		return err
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return fmt.Errorf("cannot validate document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("the document is not valid: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func compileJSONSchema(document string) (*gojsonschema.Schema, error) {
	if cached, ok := jsonSchemas.Load(document); ok {
		return cached.(*gojsonschema.Schema), nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		return nil, fmt.Errorf("invalid json schema: %w", err)
	}
	jsonSchemas.Store(document, compiled)
	return compiled, nil
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
