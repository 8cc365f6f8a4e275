package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()

	BadRequest(rec, "Duplicate filename")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false,"error":{"message":"Duplicate filename"}}`, rec.Body.String())
}

func TestOKWritesPayload(t *testing.T) {
	rec := httptest.NewRecorder()

	OK(rec, Envelope{Success: true})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}
