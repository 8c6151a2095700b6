package jsonrpc

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Args are the arguments of one call, bound to the method's declared
// parameters. Positional and named calls bind to the same order.
type Args struct {
	names  []string
	values []any
	named  bool
}

// Len returns the number of arguments, which always equals the arity.
func (a Args) Len() int {
	return len(a.values)
}

// At returns the i'th argument in declaration order.
func (a Args) At(i int) any {
	return a.values[i]
}

// Get returns the argument bound to the parameter called name.
func (a Args) Get(name string) (any, bool) {
	i := slices.Index(a.names, name)
	if i < 0 {
		return nil, false
	}
	return a.values[i], true
}

// Named reports whether the call supplied its params as an object.
func (a Args) Named() bool {
	return a.named
}

// Map returns the arguments keyed by parameter name.
func (a Args) Map() map[string]any {
	m := make(map[string]any, len(a.names))
	for i, name := range a.names {
		m[name] = a.values[i]
	}
	return m
}

// Decode copies the arguments into dst, a pointer to a struct whose json
// tags name the parameters.
func (a Args) Decode(dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      dst,
		ErrorUnused: false,
	})
	if err != nil {
		return fmt.Errorf("jsonrpc: decode args: %w", err)
	}
	if err := dec.Decode(a.Map()); err != nil {
		return fmt.Errorf("jsonrpc: decode args: %w", err)
	}
	return nil
}

// bind matches params against the declared parameters of m. Absent params
// are an empty positional list. Arrays must match the arity exactly and
// objects must carry exactly the declared keys.
func bind(m Method, params any) (Args, *Failure) {
	switch p := params.(type) {
	case nil:
		return bindPositional(m, nil)
	case []any:
		return bindPositional(m, p)
	case map[string]any:
		return bindNamed(m, p)
	}
	return Args{}, &Failure{Code: CodeInvalidRequest, Detail: "params must be an array or an object"}
}

func bindPositional(m Method, p []any) (Args, *Failure) {
	if len(p) != m.Arity() {
		return Args{}, &Failure{
			Code:   CodeInvalidParams,
			Detail: fmt.Sprintf("%s takes %d positional argument(s) but %d were given", m.Name, m.Arity(), len(p)),
		}
	}
	return Args{names: m.Params, values: slices.Clone(p)}, nil
}

func bindNamed(m Method, p map[string]any) (Args, *Failure) {
	values := make([]any, len(m.Params))
	var missing []string
	for i, name := range m.Params {
		v, ok := p[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		values[i] = v
	}
	var unexpected []string
	for k := range p {
		if !slices.Contains(m.Params, k) {
			unexpected = append(unexpected, k)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return Args{names: m.Params, values: values, named: true}, nil
	}

	slices.Sort(unexpected)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing argument(s) "+strings.Join(missing, ", "))
	}
	if len(unexpected) > 0 {
		parts = append(parts, "unexpected argument(s) "+strings.Join(unexpected, ", "))
	}
	return Args{}, &Failure{
		Code:   CodeInvalidParams,
		Detail: m.Name + ": " + strings.Join(parts, "; "),
	}
}
