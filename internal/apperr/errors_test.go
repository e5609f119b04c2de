package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotFound(t *testing.T) {
	err := NotFound("paper", int64(7))
	require.Equal(t, CodeNotFound, err.Code)
	require.Equal(t, http.StatusNotFound, err.Status)
	require.Equal(t, "NOT_FOUND: paper not found: 7", err.Error())
	require.Equal(t, int64(7), err.Details["id"])
}

func TestIsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("load paper: %w", NotFound("paper", 1))
	require.True(t, Is(wrapped, CodeNotFound))
	require.False(t, Is(wrapped, CodeValidation))
	require.False(t, Is(errors.New("plain"), CodeNotFound))
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, StatusOf(Validation("bad type")))
	require.Equal(t, http.StatusForbidden, StatusOf(fmt.Errorf("x: %w", AccessDenied("nope"))))
	require.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}

func TestExternalDependencyUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := ExternalDependency("extraction engine", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, http.StatusBadGateway, err.Status)
}
