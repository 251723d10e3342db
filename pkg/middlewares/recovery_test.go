package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRecoveryConvertsPanic verifies a panicking handler yields a 500
// instead of tearing down the server.
func TestRecoveryConvertsPanic(t *testing.T) {
	h := NewRecovery(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		panic("bad device view")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// TestRecoveryPassesThrough verifies normal responses are untouched.
func TestRecoveryPassesThrough(t *testing.T) {
	h := NewRecovery(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
