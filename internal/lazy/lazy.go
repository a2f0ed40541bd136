// Package lazy memoizes derived values on the object that owns them.
//
// A value is computed on first access and served from the owner afterwards.
// Only successful results are stored; a failed computation runs again on the
// next access. Nothing is ever evicted, entries live as long as their owner.
// Neither type is safe for concurrent use.
package lazy

// Value is a compute-once slot meant to be embedded as a struct field.
// The zero value is empty and ready to use.
type Value[T any] struct {
	v    T
	done bool
}

// Get returns the stored value, calling compute only if nothing is stored yet.
func (l *Value[T]) Get(compute func() (T, error)) (T, error) {
	if l.done {
		return l.v, nil
	}
	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	l.v = v
	l.done = true
	return v, nil
}

// Resolved reports whether a value has been stored.
func (l *Value[T]) Resolved() bool {
	return l.done
}

// Cache holds keyed derived values for a single owner.
// The zero value is ready to use.
type Cache struct {
	m map[string]any
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	return len(c.m)
}

// Has reports whether key has a stored value.
func (c *Cache) Has(key string) bool {
	_, ok := c.m[key]
	return ok
}

// Resolve returns the value stored under key, calling compute on a miss.
// A key must always be resolved with the same type T; a stored value of a
// different type is treated as a miss and replaced.
func Resolve[T any](c *Cache, key string, compute func() (T, error)) (T, error) {
	if v, ok := c.m[key].(T); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	if c.m == nil {
		c.m = make(map[string]any)
	}
	c.m[key] = v
	return v, nil
}
