package ports

import "net/http"

// HTTPClient abstracts HTTP operations for the HTTP sinks.
// The standard *http.Client satisfies this interface; tests swap in
// httptest-backed clients.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
