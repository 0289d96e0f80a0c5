package registry

import (
	"context"
	"fmt"
	"reflect"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
)

// Built-in names.
const (
	HandlerStep    = "step"
	HandlerAssign  = "assign"
	HandlerRequire = "require"
	HandlerAppend  = "append"
	HandlerNoop    = "noop"

	RouterField  = "field"
	RouterTruthy = "truthy"
)

// StepArgs declares a handler without code.
// Require is checked first; the update is Set, then Append, then the matching Switch case.
type StepArgs struct {
	Require map[string]any `mapstructure:"require"`
	Set     map[string]any `mapstructure:"set"`
	Append  map[string]any `mapstructure:"append"`
	Switch  *SwitchArgs    `mapstructure:"switch"`
}

// SwitchArgs adds Cases[value of Field] to the update, or Default when no case matches.
type SwitchArgs struct {
	Field   string                    `mapstructure:"field"`
	Cases   map[string]map[string]any `mapstructure:"cases"`
	Default map[string]any            `mapstructure:"default"`
}

type fieldArgs struct {
	Field   string `mapstructure:"field"`
	Default string `mapstructure:"default"`
}

func registerBuiltins(r *Registry) {
	r.RegisterHandler(HandlerStep, func(args map[string]any) (graph.Handler, error) {
		var sa StepArgs
		if err := decodeArgs(args, &sa); err != nil {
			return nil, err
		}
		return Step(sa)
	})
	r.RegisterHandler(HandlerAssign, func(args map[string]any) (graph.Handler, error) {
		return Step(StepArgs{Set: args})
	})
	r.RegisterHandler(HandlerRequire, func(args map[string]any) (graph.Handler, error) {
		return Step(StepArgs{Require: args})
	})
	r.RegisterHandler(HandlerAppend, func(args map[string]any) (graph.Handler, error) {
		return Step(StepArgs{Append: args})
	})
	r.RegisterHandlerFunc(HandlerNoop, func(context.Context, domain.State) (domain.State, error) {
		return nil, nil
	})

	r.RegisterRouter(RouterField, func(args map[string]any) (graph.Router, error) {
		var fa fieldArgs
		if err := decodeArgs(args, &fa); err != nil {
			return nil, err
		}
		if fa.Field == "" {
			return nil, fmt.Errorf("field is required")
		}
		return FieldRouter(fa.Field, fa.Default), nil
	})
	r.RegisterRouter(RouterTruthy, func(args map[string]any) (graph.Router, error) {
		var fa fieldArgs
		if err := decodeArgs(args, &fa); err != nil {
			return nil, err
		}
		if fa.Field == "" {
			return nil, fmt.Errorf("field is required")
		}
		return TruthyRouter(fa.Field), nil
	})
}

// Step builds the declarative handler described by args.
func Step(args StepArgs) (graph.Handler, error) {
	if args.Switch != nil && args.Switch.Field == "" {
		return nil, fmt.Errorf("switch: field is required")
	}
	return graph.HandlerFunc(func(_ context.Context, s domain.State) (domain.State, error) {
		for _, field := range domain.State(args.Require).Keys() {
			want := args.Require[field]
			if got := s[field]; !looseEqual(got, want) {
				return nil, fmt.Errorf("requires %s == %v, got %v", field, want, got)
			}
		}

		update := domain.State{}
		for k, v := range args.Set {
			update[k] = v
		}
		for k, v := range args.Append {
			update[k] = v
		}
		if sw := args.Switch; sw != nil {
			extra := sw.Default
			if v, ok := s[sw.Field]; ok && v != nil {
				if c, ok := sw.Cases[fmt.Sprint(v)]; ok {
					extra = c
				}
			}
			for k, v := range extra {
				update[k] = v
			}
		}
		return update.Clone(), nil
	}), nil
}

// FieldRouter routes on the string form of a state field.
// A missing or nil field is a pending decision unless fallback is set.
func FieldRouter(field, fallback string) graph.Router {
	return graph.RouterFunc(func(_ context.Context, s domain.State) (string, error) {
		v, ok := s[field]
		if !ok || v == nil {
			if fallback != "" {
				return fallback, nil
			}
			return "", fmt.Errorf("%s: %w", field, domain.ErrDecisionPending)
		}
		return fmt.Sprint(v), nil
	})
}

// TruthyRouter routes to "true" or "false" by the truthiness of a state field.
func TruthyRouter(field string) graph.Router {
	return graph.RouterFunc(func(_ context.Context, s domain.State) (string, error) {
		if truthy(s[field]) {
			return "true", nil
		}
		return "false", nil
	})
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}
	return true
}

// looseEqual treats numbers of different Go types as equal when their values
// match, since JSON-backed stores hand back float64.
func looseEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
