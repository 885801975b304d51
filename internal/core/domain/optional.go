package domain

import "reflect"

// Optional is a set-once field of the protocol model. Setting it again with
// the same value is a no-op, with a different one an error.
type Optional[T any] struct {
	Value T
	IsSet bool
}

// Set assigns v if the field is unset.
func (o *Optional[T]) Set(v T) error {
	if o.IsSet {
		if reflect.DeepEqual(o.Value, v) {
			return nil
		}
		return ErrFieldAlreadySet
	}
	o.Value = v
	o.IsSet = true
	return nil
}

// Get returns the value and whether it's set.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.IsSet
}

// OrZero returns the value, or the zero value if unset.
func (o Optional[T]) OrZero() T {
	return o.Value
}
