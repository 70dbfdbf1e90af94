package workflow

import (
	"strings"
	"time"
)

// SortOrder defines how results should be ordered when listing operations.
type SortOrder int

const (
	// SortByUpdatedDesc orders operations by UpdatedAt descending (most recent first).
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders operations by UpdatedAt ascending (oldest first).
	SortByUpdatedAsc
)

// ListOptions controls how operations are selected when querying the store.
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	Kinds      []string
	EndpointID string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.EndpointID = strings.TrimSpace(opts.EndpointID)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of operations returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching operations before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters operations by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithKinds filters operations by kind tokens.
func WithKinds(kinds ...string) ListOption {
	return func(opts *ListOptions) {
		opts.Kinds = append(opts.Kinds[:0], kinds...)
	}
}

// WithEndpoint filters operations by the endpoint they target.
func WithEndpoint(endpointID string) ListOption {
	return func(opts *ListOptions) {
		opts.EndpointID = endpointID
	}
}

// WithUpdatedSince filters operations updated after the provided instant (inclusive).
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedGTE = 0
			return
		}
		opts.UpdatedGTE = ts.Unix()
	}
}

// WithUpdatedUntil filters operations updated before the provided instant (inclusive).
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedLTE = 0
			return
		}
		opts.UpdatedLTE = ts.Unix()
	}
}

// WithSortOrder changes the returned order of operations.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// buildListOptions applies option functions on top of defaults.
func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
