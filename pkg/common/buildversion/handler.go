package buildversion

import (
	"fmt"
	"net/http"
)

const (
	// Get is the default endpoint for getting the orchestrator version.
	Get = "/version"
)

// Handler returns a handler for version Get request
func Handler(version string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, version)
	}
}
