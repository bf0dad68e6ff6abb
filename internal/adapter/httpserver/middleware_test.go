package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/correlation"
	apperrors "github.com/RealBhupesh/fictional-carnival/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMiddleware(t *testing.T, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, ErrorHandlingMiddleware()(handler)(c))
	return rec
}

func TestErrorHandlingMiddleware_ErrorTypes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   apperrors.ErrorType
		wantMsg    string
	}{
		{"validation", apperrors.ValidationError("invalid input"), http.StatusBadRequest, apperrors.TypeValidation, "invalid input"},
		{"unauthorized", apperrors.UnauthorizedError(domain.ErrInvalidToken), http.StatusUnauthorized, apperrors.TypeUnauthorized, "unauthorized"},
		{"forbidden", apperrors.ForbiddenError("privileged role required"), http.StatusForbidden, apperrors.TypeForbidden, "privileged role required"},
		{"not_found", apperrors.NotFoundError("unknown room"), http.StatusNotFound, apperrors.TypeNotFound, "unknown room"},
		{"internal", apperrors.InternalError("failed", errors.New("cause")), http.StatusInternalServerError, apperrors.TypeInternal, "failed"},
		{"external", apperrors.ExternalError("redis failed", errors.New("timeout")), http.StatusBadGateway, apperrors.TypeExternal, "redis failed"},
		{"plain error", errors.New("standard error"), http.StatusInternalServerError, apperrors.TypeInternal, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := runMiddleware(t, func(c echo.Context) error { return tt.err })

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantType, resp.Type)
			assert.Equal(t, tt.wantMsg, resp.Error)
		})
	}
}

func TestErrorHandlingMiddleware_UnauthorizedHidesCause(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return apperrors.UnauthorizedError(errors.New("signature is invalid"))
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "signature")
}

func TestErrorHandlingMiddleware_Context(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		c.Set(ctxKeyUserID, "admin-1")
		return apperrors.NotFoundError("unknown room").WithField("room", "lobby")
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, map[string]any{"room": "lobby"}, resp.Context)
}

func TestErrorHandlingMiddleware_PassesThrough(t *testing.T) {
	rec := runMiddleware(t, func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestErrorHandlingMiddleware_LeavesHTTPErrorsToEcho(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/test", nil), httptest.NewRecorder())

	err := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return echo.ErrMethodNotAllowed
	})(c)

	assert.ErrorIs(t, err, echo.ErrMethodNotAllowed)
}

func TestHandleError_Nil(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/test", nil), httptest.NewRecorder())

	assert.NoError(t, HandleError(c, nil))
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		httpErr    *echo.HTTPError
		wantType   apperrors.ErrorType
		wantStatus int
	}{
		{"bad_request", echo.NewHTTPError(http.StatusBadRequest, "bad request"), apperrors.TypeValidation, http.StatusBadRequest},
		{"unauthorized", echo.NewHTTPError(http.StatusUnauthorized, "no"), apperrors.TypeUnauthorized, http.StatusUnauthorized},
		{"forbidden", echo.NewHTTPError(http.StatusForbidden, "no"), apperrors.TypeForbidden, http.StatusForbidden},
		{"not_found", echo.NewHTTPError(http.StatusNotFound, "not found"), apperrors.TypeNotFound, http.StatusNotFound},
		{"bad_gateway", echo.NewHTTPError(http.StatusBadGateway, "bad gateway"), apperrors.TypeExternal, http.StatusBadGateway},
		{"service_unavailable", echo.NewHTTPError(http.StatusServiceUnavailable, "unavailable"), apperrors.TypeExternal, http.StatusBadGateway},
		{"internal", echo.NewHTTPError(http.StatusInternalServerError, "boom"), apperrors.TypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapHTTPError(tt.httpErr)

			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}

func TestWrapHTTPError_MessageAndCause(t *testing.T) {
	cause := errors.New("underlying cause")
	httpErr := echo.NewHTTPError(http.StatusInternalServerError, "wrapped").SetInternal(cause)

	err := WrapHTTPError(httpErr)
	assert.Equal(t, "wrapped", err.Message)
	assert.Equal(t, cause, err.Cause)

	err = WrapHTTPError(&echo.HTTPError{Code: http.StatusBadRequest, Message: 12345})
	assert.Equal(t, "internal server error", err.Message)
}

func TestHTTPErrorHandler_UnknownRouteIsStructured(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/nope", "", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeNotFound, resp.Type)
}

func TestHTTPErrorHandler_KeepsUnmappedStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodDelete, "/version", "", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCorrelationMiddleware(t *testing.T) {
	e := echo.New()
	var seen string
	handler := correlationMiddleware(func(c echo.Context) error {
		seen, _ = correlation.ID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Len(t, seen, 8)
	assert.Equal(t, seen, rec.Header().Get(echo.HeaderXRequestID))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(echo.HeaderXRequestID, "upstream-42")
	rec = httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, "upstream-42", seen)
	assert.Equal(t, "upstream-42", rec.Header().Get(echo.HeaderXRequestID))
}
