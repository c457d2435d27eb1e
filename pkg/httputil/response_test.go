package httputil

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/pkg/errors"
)

func respond(t *testing.T, err error) (int, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RespondWithError(c, err)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"conflict", errors.Conflict("availability slot is already booked", nil), http.StatusConflict, "CONFLICT", "availability slot is already booked"},
		{"invalid state", errors.InvalidState("appointment is not scheduled"), http.StatusBadRequest, "INVALID_STATE", "appointment is not scheduled"},
		{"too large", errors.PayloadTooLarge(10), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body exceeds 10 bytes"},
		{"internal hides cause", errors.NewInternal(stderrors.New("pq: connection refused")), http.StatusInternalServerError, "INTERNAL", "internal server error"},
		{"plain error", stderrors.New("boom"), http.StatusInternalServerError, "INTERNAL", "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := respond(t, tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}
