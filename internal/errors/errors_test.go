package errors_test

import (
	"errors"
	"testing"

	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	require.NoError(t, apperrors.Wrapf(nil, "open %s", "store"))

	err := apperrors.Wrapf(apperrors.ErrUnsupported, "store backend %q", "sqlite")
	require.EqualError(t, err, `store backend "sqlite": unsupported operation`)
	require.True(t, errors.Is(err, apperrors.ErrUnsupported))
	require.False(t, errors.Is(err, apperrors.ErrNotConfigured))
}
