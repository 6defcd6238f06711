package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/usnavy13/codebox/internal/apperr"
)

func TestWriteAppErrMapsKnownType(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/exec", nil), rec)

	err := writeAppErr(c, apperr.New(apperr.TypeResourceNotFound, "file not found"))
	if err != nil {
		t.Fatalf("writeAppErr returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestWriteAppErrWrapsPlainError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/exec", nil), rec)

	err := writeAppErr(c, errors.New("boom"))
	if err != nil {
		t.Fatalf("writeAppErr returned error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected a plain error to map to 500, got %d", rec.Code)
	}
}

func TestWriteAppErrExecutionFailedIsHTTP200(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/exec", nil), rec)

	err := writeAppErr(c, apperr.New(apperr.TypeExecutionFailed, "user code failed"))
	if err != nil {
		t.Fatalf("writeAppErr returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected user-code failures to surface as 200 per SPEC_FULL §7, got %d", rec.Code)
	}
}
