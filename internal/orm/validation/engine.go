// Package validation validates record graphs against the rules declared on
// their entities. Sibling rules and nested records are validated concurrently.
package validation

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Constraint names of the built-in checks
const (
	ConstraintDefined    = "isDefined"
	ConstraintEnum       = "isEnum"
	ConstraintJSONSchema = "jsonSchema"
)

// Options control a validation run
type Options struct {
	Operation string

	// Groups are added to the automatic ones
	Groups []string

	// NoAutoGroups disables the [table, table_operation, operation] groups
	NoAutoGroups bool

	// SkipMissingProperties only validates the props present on a record
	SkipMissingProperties bool

	// SkipNestedEntities only validates the root record
	SkipNestedEntities bool
}

// Engine runs validations
type Engine struct {
	logger *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger used to report panicking rules
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a new validation engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateItem validates item and every nested record reachable from it.
// The result is never nil; it holds no paths when the item is valid.
func (e *Engine) ValidateItem(ctx context.Context, root *schema.EntityMetadata, item *schema.Record, opts Options) *ValidationErrors {
	errs := NewValidationErrors()
	e.validateNode(ctx, root, item, root.TableName, true, activeGroups(root, opts), opts, errs)
	return errs
}

// Validate is ValidateItem returning an error, nil when the item is valid
func (e *Engine) Validate(ctx context.Context, root *schema.EntityMetadata, item *schema.Record, opts Options) error {
	errs := e.ValidateItem(ctx, root, item, opts)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (e *Engine) validateNode(ctx context.Context, meta *schema.EntityMetadata, item *schema.Record, path string, isRoot bool, groups []string, opts Options, errs *ValidationErrors) {
	if item == nil {
		return
	}
	// a nested {id} references an existing row, whatever the operation
	if item.IsReference(meta.PrimaryName()) && (!isRoot || (opts.Operation == "update" && opts.SkipMissingProperties)) {
		return
	}

	var g errgroup.Group

	for _, col := range meta.Columns {
		col := col
		value, present := item.Get(col.PropertyName)
		if !present && opts.SkipMissingProperties {
			continue
		}

		if value == nil {
			if isRequired(col) {
				errs.Add(path, NewFieldError(col.PropertyName, ConstraintDefined, "should not be null or undefined"))
			}
			continue
		}

		for _, rule := range columnRules(col) {
			if !appliesTo(rule.Groups(), groups) {
				continue
			}
			rule := rule
			g.Go(func() error {
				e.run(path, col.PropertyName, rule.Name(), value, errs, func() error {
					return rule.Validate(ctx, value)
				})
				return nil
			})
		}
	}

	for _, rel := range meta.Relations {
		rel := rel
		value, present := item.Get(rel.PropertyName)
		if !present {
			continue
		}

		for _, rule := range rel.Rules {
			if !appliesTo(rule.Groups(), groups) {
				continue
			}
			rule := rule
			g.Go(func() error {
				e.run(path, rel.PropertyName, rule.Name(), nil, errs, func() error {
					return rule.Validate(ctx, value)
				})
				return nil
			})
		}

		if opts.SkipNestedEntities {
			continue
		}

		childPath := rel.PropertyName
		if !isRoot {
			childPath = path + "." + rel.PropertyName
		}

		switch v := value.(type) {
		case *schema.Record:
			g.Go(func() error {
				e.validateBranch(ctx, rel.InverseEntity, v, childPath, groups, opts, errs)
				return nil
			})
		case []*schema.Record:
			for i, child := range v {
				child, elemPath := child, childPath+"."+strconv.Itoa(i)
				g.Go(func() error {
					e.validateBranch(ctx, rel.InverseEntity, child, elemPath, groups, opts, errs)
					return nil
				})
			}
		}
	}

	for _, rule := range meta.ClassRules {
		if !appliesTo(rule.Groups(), groups) {
			continue
		}
		rule := rule
		g.Go(func() error {
			e.run(path, "", rule.Name(), nil, errs, func() error {
				return rule.Validate(ctx, item)
			})
			return nil
		})
	}

	_ = g.Wait()
}

// validateBranch isolates a nested record: a panic there is reported on its own path
func (e *Engine) validateBranch(ctx context.Context, meta *schema.EntityMetadata, item *schema.Record, path string, groups []string, opts Options, errs *ValidationErrors) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("nested validation panicked", zap.String("path", path), zap.Any("panic", r))
			errs.Add(path, NewFieldError("", ConstraintUnknown, fmt.Sprint(r)))
		}
	}()
	e.validateNode(ctx, meta, item, path, false, groups, opts, errs)
}

// run executes one rule, turning a panic into an "unknown" constraint violation
func (e *Engine) run(path, prop, constraint string, value interface{}, errs *ValidationErrors, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("validation rule panicked",
				zap.String("path", path),
				zap.String("property", prop),
				zap.String("constraint", constraint),
				zap.Any("panic", r),
			)
			errs.Add(path, NewFieldError(prop, ConstraintUnknown, fmt.Sprint(r)))
		}
	}()

	if err := fn(); err != nil {
		fe := NewFieldError(prop, constraint, err.Error())
		fe.Value = value
		errs.Add(path, fe)
	}
}

func isRequired(col *schema.ColumnMetadata) bool {
	return !col.Nullable && !col.Primary && !col.Generated
}

// columnRules returns the declared rules plus those implied by the column type
func columnRules(col *schema.ColumnMetadata) []schema.PropertyRule {
	rules := col.Rules
	if len(col.EnumValues) > 0 {
		rules = append(rules[:len(rules):len(rules)], NewRule(ConstraintEnum, &EnumValidator{Values: col.EnumValues}))
	}
	if col.JSONSchema != "" {
		rules = append(rules[:len(rules):len(rules)], NewRule(ConstraintJSONSchema, &JSONSchemaValidator{Schema: col.JSONSchema}))
	}
	return rules
}

func activeGroups(meta *schema.EntityMetadata, opts Options) []string {
	groups := make([]string, 0, len(opts.Groups)+3)
	if !opts.NoAutoGroups {
		groups = append(groups, meta.TableName)
		if opts.Operation != "" {
			groups = append(groups, meta.TableName+"_"+opts.Operation, opts.Operation)
		}
	}
	return append(groups, opts.Groups...)
}

// appliesTo reports whether a rule declared for ruleGroups runs for the active groups
func appliesTo(ruleGroups, active []string) bool {
	if len(ruleGroups) == 0 {
		return true
	}
	for _, rg := range ruleGroups {
		for _, a := range active {
			if rg == a {
				return true
			}
		}
	}
	return false
}
