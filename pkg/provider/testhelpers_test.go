package provider

import (
	"io"
	"net/http"
)

// readBody drains and returns r.Body as a string, for test handlers
// asserting on the shaped request a provider adapter sent upstream.
func readBody(r *http.Request) string {
	raw, _ := io.ReadAll(r.Body)
	return string(raw)
}
