// Package api provides an HTTP API server for mutating and querying the
// versioned knowledge graph.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string
}

// ErrorResponse is the JSON error body returned by every failing endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}
