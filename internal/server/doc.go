// Package server hosts the Fiber HTTP service over the resolution engine:
// request middleware (request IDs, panic recovery), resource routes that
// resolve URLs, assets and raw resources into local files and stream them back,
// and the error mapping from loader failures to HTTP status codes.
// Diagnostics and admin endpoints under /-/ live in the routes subpackage and
// are attached by the binary after NewApp returns.
package server
