package rpc

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"google.golang.org/grpc/codes"
)

// Category classifies the result of a call.
//
// Categories are what a hedging policy reasons about. Transport statuses
// outside this set map to Unknown.
type Category uint8

const (
	// OK is a successful call.
	OK Category = iota
	// Unavailable means the server could not take the call right now.
	Unavailable
	// DeadlineExceeded means the call ran out of time.
	DeadlineExceeded
	// Internal is a server-side fault.
	Internal
	// Interrupted means the server's own wait was cut short.
	Interrupted
	// Cancelled means the caller abandoned the call.
	Cancelled
	// InvalidArgument means the request itself is unusable.
	InvalidArgument
	// Unknown covers every failure that could not be classified.
	Unknown
)

var categoryNames = [...]string{
	OK:               "OK",
	Unavailable:      "UNAVAILABLE",
	DeadlineExceeded: "DEADLINE_EXCEEDED",
	Internal:         "INTERNAL",
	Interrupted:      "INTERRUPTED",
	Cancelled:        "CANCELLED",
	InvalidArgument:  "INVALID_ARGUMENT",
	Unknown:          "UNKNOWN",
}

// String returns the upper snake case name, e.g. "DEADLINE_EXCEEDED".
func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// ParseCategory resolves a category name. Matching ignores case and accepts
// dashes or spaces in place of underscores, so "deadline-exceeded" and
// "DEADLINE_EXCEEDED" are equal. The American spelling "CANCELED" is accepted.
func ParseCategory(name string) (Category, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	if normalized == "CANCELED" {
		return Cancelled, nil
	}
	for i, n := range categoryNames {
		if n == normalized {
			return Category(i), nil
		}
	}
	return Unknown, fmt.Errorf("rpc: unknown category %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Code maps the category onto a gRPC status code.
func (c Category) Code() codes.Code {
	switch c {
	case OK:
		return codes.OK
	case Unavailable:
		return codes.Unavailable
	case DeadlineExceeded:
		return codes.DeadlineExceeded
	case Internal:
		return codes.Internal
	case Interrupted:
		return codes.Aborted
	case Cancelled:
		return codes.Canceled
	case InvalidArgument:
		return codes.InvalidArgument
	default:
		return codes.Unknown
	}
}

// CategoryFromCode maps a gRPC status code back onto a category.
func CategoryFromCode(code codes.Code) Category {
	switch code {
	case codes.OK:
		return OK
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return DeadlineExceeded
	case codes.Internal:
		return Internal
	case codes.Aborted:
		return Interrupted
	case codes.Canceled:
		return Cancelled
	case codes.InvalidArgument:
		return InvalidArgument
	default:
		return Unknown
	}
}

// HTTPStatus maps the category onto the status code used by the HTTP transport.
func (c Category) HTTPStatus() int {
	switch c {
	case OK:
		return http.StatusOK
	case Unavailable:
		return http.StatusServiceUnavailable
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	case Interrupted:
		return http.StatusConflict
	case Cancelled:
		return statusClientClosedRequest
	case InvalidArgument:
		return http.StatusBadRequest
	case Internal:
		return http.StatusInternalServerError
	default:
		return statusUnknownError
	}
}

const (
	// statusClientClosedRequest is the de facto code for a caller that went away.
	statusClientClosedRequest = 499

	// statusUnknownError is the de facto code for an unclassified origin failure.
	statusUnknownError = 520
)

// CategoryFromHTTPStatus is the fallback used when an error body carries no
// category.
func CategoryFromHTTPStatus(status int) Category {
	switch {
	case status < http.StatusBadRequest:
		return OK
	case status == http.StatusServiceUnavailable, status == http.StatusTooManyRequests,
		status == http.StatusBadGateway:
		return Unavailable
	case status == http.StatusGatewayTimeout, status == http.StatusRequestTimeout:
		return DeadlineExceeded
	case status == http.StatusConflict:
		return Interrupted
	case status == statusClientClosedRequest:
		return Cancelled
	case status == http.StatusBadRequest:
		return InvalidArgument
	case status == http.StatusInternalServerError:
		return Internal
	default:
		return Unknown
	}
}

// CategorySet is an immutable set of categories.
type CategorySet uint16

// NewCategorySet builds a set from the given categories.
func NewCategorySet(categories ...Category) CategorySet {
	var s CategorySet
	for _, c := range categories {
		s |= 1 << c
	}
	return s
}

// ParseCategorySet builds a set from category names.
func ParseCategorySet(names []string) (CategorySet, error) {
	var s CategorySet
	for _, name := range names {
		c, err := ParseCategory(name)
		if err != nil {
			return 0, err
		}
		s = s.With(c)
	}
	return s, nil
}

// Contains reports whether c is in the set.
func (s CategorySet) Contains(c Category) bool {
	return c < 16 && s&(1<<c) != 0
}

// With returns a copy of the set that also contains c.
func (s CategorySet) With(c Category) CategorySet {
	return s | 1<<c
}

// Categories lists the members in ascending order.
func (s CategorySet) Categories() []Category {
	var out []Category
	for i := range categoryNames {
		if s.Contains(Category(i)) {
			out = append(out, Category(i))
		}
	}
	return out
}

// Len returns the number of members.
func (s CategorySet) Len() int {
	return len(s.Categories())
}

// String renders the set as "{A, B}" with sorted names.
func (s CategorySet) String() string {
	cats := s.Categories()
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.String())
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ", ") + "}"
}
