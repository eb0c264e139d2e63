package apperr

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConstructorsSetCodeAndRetryable(t *testing.T) {
	cases := []struct {
		err       *Error
		code      Code
		retryable bool
	}{
		{Validation("bad %s", "input"), CodeValidation, false},
		{UnregisteredProject("unknown"), CodeUnregisteredProject, false},
		{NotFound("missing"), CodeNotFound, false},
		{WrongState("wrong"), CodeWrongState, false},
		{PaneUnavailable("gone"), CodePaneUnavailable, true},
		{SendFailed("nope"), CodeSendFailed, true},
		{InferenceUnavailable("down"), CodeInferenceUnavail, true},
		{Conflict("dup"), CodeConflict, false},
	}
	for _, c := range cases {
		require.Equal(t, c.code, c.err.Code)
		require.Equal(t, c.retryable, c.err.Retryable)
	}
}

func TestValidationFormatsMessage(t *testing.T) {
	err := Validation("bad %s", "input")
	require.Equal(t, "bad input", err.Message)
	require.Contains(t, err.Error(), "bad input")
}

func TestServerErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := ServerError(cause)
	require.Equal(t, CodeServerError, err.Code)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "boom")
}

func TestAsIgnoresFlattenedErrorText(t *testing.T) {
	base := NotFound("gone")
	wrapped := errors.New("context: " + base.Error())
	_, ok := As(wrapped)
	require.False(t, ok, "a plain error formatted via Error() is not an *Error")

	found, ok := As(base)
	require.True(t, ok)
	require.Same(t, base, found)
}

func TestWithRetryAfterAttachesDuration(t *testing.T) {
	err := PaneUnavailable("gone").WithRetryAfter(5 * time.Second)
	require.NotNil(t, err.RetryAfter)
	require.Equal(t, 5*time.Second, *err.RetryAfter)
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:          http.StatusBadRequest,
		CodeUnregisteredProject: http.StatusNotFound,
		CodeNotFound:            http.StatusNotFound,
		CodeWrongState:          http.StatusConflict,
		CodePaneUnavailable:     http.StatusServiceUnavailable,
		CodeInferenceUnavail:    http.StatusServiceUnavailable,
		CodeSendFailed:          http.StatusBadGateway,
		CodeConflict:            http.StatusOK,
		CodeServerError:         http.StatusInternalServerError,
	}
	for code, status := range cases {
		require.Equal(t, status, code.HTTPStatus(), "code %s", code)
	}
}

func TestToBodyClassifiedError(t *testing.T) {
	err := SendFailed("pane gone").WithRetryAfter(2 * time.Second)
	status, body := ToBody(err)
	require.Equal(t, http.StatusBadGateway, status)
	require.Equal(t, CodeSendFailed, body.Code)
	require.True(t, body.Retryable)
	require.NotNil(t, body.RetryAfter)
	require.Equal(t, 2, *body.RetryAfter)
}

func TestToBodyUnclassifiedErrorBecomesServerError(t *testing.T) {
	status, body := ToBody(errors.New("unexpected"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, CodeServerError, body.Code)
	require.Nil(t, body.RetryAfter)
}
