package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// ParameterSet is an ordered collection of named parameters.
//
// Once a model's variables are created, the member set and shapes are fixed
// for the model's lifetime; only the parameter values change, in place, when
// gradients are applied.
type ParameterSet[B tensor.Backend] struct {
	params []*Parameter[B]
	index  map[string]int
}

// NewParameterSet creates an empty parameter set.
func NewParameterSet[B tensor.Backend]() *ParameterSet[B] {
	return &ParameterSet[B]{
		index: make(map[string]int),
	}
}

// Add appends parameters to the set, preserving order.
// Duplicate names are rejected.
func (s *ParameterSet[B]) Add(params ...*Parameter[B]) error {
	for _, p := range params {
		if _, exists := s.index[p.Name()]; exists {
			return fmt.Errorf("parameter %q already registered", p.Name())
		}
		s.index[p.Name()] = len(s.params)
		s.params = append(s.params, p)
	}
	return nil
}

// Len returns the number of parameters.
func (s *ParameterSet[B]) Len() int {
	return len(s.params)
}

// Slice returns the parameters in registration order.
// The returned slice must not be modified.
func (s *ParameterSet[B]) Slice() []*Parameter[B] {
	return s.params
}

// Get returns the parameter with the given name, or nil.
func (s *ParameterSet[B]) Get(name string) *Parameter[B] {
	if i, ok := s.index[name]; ok {
		return s.params[i]
	}
	return nil
}

// Names returns the parameter names in registration order.
func (s *ParameterSet[B]) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name()
	}
	return names
}
