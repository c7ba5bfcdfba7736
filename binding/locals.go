package binding

import "strconv"

// Locals holds the template-local values produced by one evaluation.
// Each binding has its own key so that a loop variable bound once per
// iteration never aliases an earlier iteration's value.
type Locals struct {
	values map[string]any
	seq    int
}

// NewLocals creates an empty scope.
func NewLocals() *Locals {
	return &Locals{values: make(map[string]any)}
}

// Bind stores a value under a fresh key derived from name and returns the key.
func (l *Locals) Bind(name string, value any) string {
	l.seq++
	key := name + "#" + strconv.Itoa(l.seq)
	l.values[key] = value

	return key
}

// Set stores a value under an explicit key.
func (l *Locals) Set(key string, value any) {
	l.values[key] = value
}

// Lookup returns the value stored under key.
func (l *Locals) Lookup(key string) (any, bool) {
	if l == nil || key == "" {
		return nil, false
	}

	v, ok := l.values[key]

	return v, ok
}

// Len returns the number of bindings.
func (l *Locals) Len() int {
	if l == nil {
		return 0
	}

	return len(l.values)
}
