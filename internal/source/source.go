// Package source fetches poster timestamps and content from the places
// posters are published.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ivlev/postersync/internal/poster"
)

type Fetcher interface {
	// FetchTimestamp returns when the source last changed.
	FetchTimestamp(ctx context.Context, d poster.Descriptor) (time.Time, error)
	// FetchContent returns the raw bytes of the source.
	FetchContent(ctx context.Context, d poster.Descriptor) ([]byte, error)
}

// FetchError is a failed timestamp or content fetch.
type FetchError struct {
	ID  string
	Op  string // "timestamp" or "content"
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("poster %s: fetch %s: %v", e.ID, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Registry dispatches to the fetcher registered for a descriptor's kind.
type Registry struct {
	fetchers map[poster.Kind]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[poster.Kind]Fetcher)}
}

// Register binds a fetcher to a kind.
func (r *Registry) Register(kind poster.Kind, f Fetcher) {
	r.fetchers[kind] = f
}

// Check reports the first descriptor whose kind has no fetcher.
func (r *Registry) Check(descriptors []poster.Descriptor) error {
	for _, d := range descriptors {
		if _, ok := r.fetchers[d.Kind]; !ok {
			return fmt.Errorf("poster %s: no fetcher for type %q", d.ID, d.Kind)
		}
	}
	return nil
}

func (r *Registry) lookup(d poster.Descriptor) (Fetcher, error) {
	f, ok := r.fetchers[d.Kind]
	if !ok {
		return nil, fmt.Errorf("no fetcher for type %q", d.Kind)
	}
	return f, nil
}

func (r *Registry) FetchTimestamp(ctx context.Context, d poster.Descriptor) (time.Time, error) {
	f, err := r.lookup(d)
	if err != nil {
		return time.Time{}, &FetchError{ID: d.ID, Op: "timestamp", Err: err}
	}
	t, err := f.FetchTimestamp(ctx, d)
	if err != nil {
		return time.Time{}, wrap(d, "timestamp", err)
	}
	return t, nil
}

func (r *Registry) FetchContent(ctx context.Context, d poster.Descriptor) ([]byte, error) {
	f, err := r.lookup(d)
	if err != nil {
		return nil, &FetchError{ID: d.ID, Op: "content", Err: err}
	}
	data, err := f.FetchContent(ctx, d)
	if err != nil {
		return nil, wrap(d, "content", err)
	}
	return data, nil
}

func wrap(d poster.Descriptor, op string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{ID: d.ID, Op: op, Err: err}
}
