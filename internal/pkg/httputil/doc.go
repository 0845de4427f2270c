// Package httputil provides shared HTTP response/request utilities for the
// reporting and tracking handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter
// calls so JSON envelopes, CSV downloads and error logging stay consistent.
package httputil
