// Package fetch defines the pluggable byte-stream source used to download
// resources, together with the default HTTP implementation.
package fetch

import (
	"context"
	"errors"
	"io"
)

// ErrUnsuccessful is returned by Result.Body when the fetch did not succeed.
var ErrUnsuccessful = errors.New("fetch: body requested from an unsuccessful result")

// Fetcher performs a single synchronous fetch. It never retries.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Result, error)
}

// Result is a scoped fetch outcome. Close must be called on every path,
// whether or not the fetch succeeded.
type Result interface {
	// Succeeded reports whether the body can be consumed.
	Succeeded() bool
	// Body returns the content stream, or ErrUnsuccessful.
	Body() (io.Reader, error)
	// ContentType is the declared media type, possibly empty.
	ContentType() string
	// ErrorMessage describes why the fetch failed; empty on success.
	ErrorMessage() string
	io.Closer
}
