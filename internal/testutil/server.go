package testutil

import (
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

var (
	validatorOnce sync.Once
	validator     *OpenAPIValidator
	validatorErr  error
)

// SharedValidator loads the OpenAPI document once per test binary.
func SharedValidator(t *testing.T) *OpenAPIValidator {
	t.Helper()
	validatorOnce.Do(func() {
		validator, validatorErr = LoadOpenAPIValidator(OpenAPISpecPath())
	})
	if validatorErr != nil {
		t.Fatalf("load OpenAPI validator: %v", validatorErr)
	}
	return validator
}

// NewAPIServer serves routes registered by mount under /api/v1 and returns a
// validating client for it. The server is closed with the test.
func NewAPIServer(t *testing.T, mount func(r chi.Router)) *Client {
	t.Helper()

	r := chi.NewRouter()
	r.Route("/api/v1", mount)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return NewClientWithValidator(t, srv.URL, SharedValidator(t))
}
