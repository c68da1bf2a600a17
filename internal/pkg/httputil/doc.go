// Package httputil provides shared HTTP response/request helpers for the API
// handlers so every endpoint answers with the same JSON envelope.
package httputil
