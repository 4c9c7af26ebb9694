package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIncludesInternal(t *testing.T) {
	err := Wrap(stdErrors.New("boom"), "failed")
	require.Equal(t, "failed: boom", err.Error())
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", http.StatusBadRequest)
	with := base.WithInternal(stdErrors.New("oops"))

	require.NotSame(t, base, with)
	require.Nil(t, base.Internal)
	require.NotNil(t, with.Internal)
}

func TestWithRedirectKeepsIdentity(t *testing.T) {
	denied := ErrForbidden.WithRedirect("/unauthorized")

	require.Equal(t, "/unauthorized", denied.Redirect)
	require.Empty(t, ErrForbidden.Redirect)
	require.True(t, stdErrors.Is(denied, ErrForbidden))
	require.False(t, stdErrors.Is(denied, ErrUnauthorized))
}

func TestFromError(t *testing.T) {
	require.Same(t, ErrNotFound, FromError(ErrNotFound))

	out := FromError(stdErrors.New("raw"))
	require.Equal(t, ErrInternalServer.Code, out.Code)
	require.NotNil(t, out.Internal)
	require.Nil(t, FromError(nil))
}

func TestNewBadRequestAndConflict(t *testing.T) {
	bad := NewBadRequest("invalid payload")
	require.Equal(t, ErrBadRequest.Code, bad.Code)
	require.Equal(t, "invalid payload", bad.Message)
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)

	conflict := NewConflict("permission name already in use")
	require.Equal(t, http.StatusConflict, conflict.StatusCode)
	require.True(t, stdErrors.Is(conflict, ErrConflict))
}
