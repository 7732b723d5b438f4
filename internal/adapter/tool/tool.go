// Package tool adapts typed Go functions to the ToolPort the conversation
// loop dispatches to.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"

	"github.com/invopop/jsonschema"
)

// Func is the blocking callable behind a tool.
type Func[A any] func(ctx context.Context, args A) (any, error)

// Tool binds a declaration to a blocking and a non-blocking callable that
// share one argument type. It holds no retry or caching logic.
type Tool[A any] struct {
	decl     entity.ToolDefinition
	fn       Func[A]
	async    Func[A]
	accepted []string
}

var _ output.ToolPort = (*Tool[struct{}])(nil)

type Option[A any] func(*Tool[A])

// WithAsync sets the callable used by InvokeAsync. Without it InvokeAsync
// runs the blocking callable on its own goroutine.
func WithAsync[A any](fn Func[A]) Option[A] {
	return func(t *Tool[A]) { t.async = fn }
}

// WithParameters replaces the schema reflected from A.
func WithParameters[A any](params map[string]any) Option[A] {
	return func(t *Tool[A]) { t.decl.Parameters = params }
}

// New builds a tool whose parameter schema is reflected from the struct A.
func New[A any](name, description string, fn Func[A], opts ...Option[A]) (*Tool[A], error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %q: callable is nil", name)
	}

	params, err := GenerateParameters[A]()
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}

	t := &Tool[A]{
		decl: entity.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		fn:       fn,
		accepted: jsonFieldNames(reflect.TypeFor[A]()),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tool[A]) Name() entity.ToolName              { return t.decl.Name }
func (t *Tool[A]) Declaration() entity.ToolDefinition { return t.decl }

// AcceptedParameters lists the JSON names A decodes.
func (t *Tool[A]) AcceptedParameters() []string {
	return append([]string(nil), t.accepted...)
}

func (t *Tool[A]) Invoke(ctx context.Context, arguments string) (any, error) {
	args, err := t.decode(arguments)
	if err != nil {
		return nil, err
	}
	return t.fn(ctx, args)
}

func (t *Tool[A]) InvokeAsync(ctx context.Context, arguments string) <-chan output.ToolOutcome {
	ch := make(chan output.ToolOutcome, 1)
	args, err := t.decode(arguments)
	if err != nil {
		ch <- output.ToolOutcome{Err: err}
		close(ch)
		return ch
	}

	fn := t.async
	if fn == nil {
		fn = t.fn
	}
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				ch <- output.ToolOutcome{Err: &PanicError{Tool: t.decl.Name, Value: r}}
			}
		}()
		v, err := fn(ctx, args)
		ch <- output.ToolOutcome{Value: v, Err: err}
	}()
	return ch
}

func (t *Tool[A]) decode(arguments string) (A, error) {
	var args A
	if strings.TrimSpace(arguments) == "" {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewBufferString(arguments))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, &ArgumentError{Tool: t.decl.Name, Err: err}
	}
	return args, nil
}

// ArgumentError reports model-supplied arguments that do not fit the tool.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a tool callable.
type PanicError struct {
	Tool  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Value)
}

var reflector = jsonschema.Reflector{
	AllowAdditionalProperties:  true,
	DoNotReference:             true,
	RequiredFromJSONSchemaTags: true,
}

// GenerateParameters reflects A into the {type, properties, required}
// object advertised to models.
func GenerateParameters[A any]() (map[string]any, error) {
	var zero A
	schema := reflector.Reflect(&zero)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(params, "$schema")
	delete(params, "$id")
	delete(params, "additionalProperties")
	if _, ok := params["properties"]; !ok {
		params["properties"] = map[string]any{}
	}
	return params, nil
}

func jsonFieldNames(t reflect.Type) []string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		names = append(names, name)
	}
	return names
}
