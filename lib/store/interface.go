// Package store abstracts the durable storage ipsleuth uses for the
// cached challenge script. Backends register themselves with the factory
// registry; the command line picks one by name.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the backend has no live value for a key,
	// including the case where the value existed but expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrCantDecode is returned when a backend cannot decode its stored
	// representation back into a value.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a backend cannot encode a value into
	// its stored representation.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a backend's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// Interface is the full set of storage operations the pipeline needs.
// Every value carries an expiry; expired values read back as ErrNotFound.
type Interface interface {
	// Delete removes a value from the store by key.
	Delete(ctx context.Context, key string) error

	// Get returns the value of a key assuming that value exists and has not expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set puts a value into the store that expires according to its expiry.
	Set(ctx context.Context, key string, value []byte, expiry time.Duration) error
}

func z[T any]() T { return *new(T) }

// JSON wraps an Interface and round-trips typed values through
// encoding/json, optionally under a key prefix.
type JSON[T any] struct {
	Underlying Interface
	Prefix     string
}

func (j *JSON[T]) Delete(ctx context.Context, key string) error {
	return j.Underlying.Delete(ctx, j.Prefix+key)
}

func (j *JSON[T]) Get(ctx context.Context, key string) (T, error) {
	data, err := j.Underlying.Get(ctx, j.Prefix+key)
	if err != nil {
		return z[T](), err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return z[T](), fmt.Errorf("%w: %w", ErrCantDecode, err)
	}

	return result, nil
}

func (j *JSON[T]) Set(ctx context.Context, key string, value T, expiry time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCantEncode, err)
	}

	return j.Underlying.Set(ctx, j.Prefix+key, data, expiry)
}
