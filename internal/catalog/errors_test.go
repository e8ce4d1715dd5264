package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	auth := fmt.Errorf("login: %w", &AuthenticationFailedError{Status: 401})
	assert.ErrorIs(t, auth, ErrAuthenticationFailed)
	var authErr *AuthenticationFailedError
	assert.True(t, errors.As(auth, &authErr))
	assert.Equal(t, 401, authErr.Status)
	assert.Contains(t, auth.Error(), "401")

	cause := errors.New("connection reset")
	fetch := &FetchFailedError{Address: "https://example.test/a", Status: 0, Err: cause}
	assert.ErrorIs(t, fetch, ErrFetchFailed)
	assert.ErrorIs(t, fetch, cause)

	sw := &VariantSwitchFailedError{Variant: Variant{FrameworkVue, VersionV3, ModeDark}, Status: 422}
	assert.ErrorIs(t, sw, ErrVariantSwitchFailed)
	assert.Contains(t, sw.Error(), "vue-v3-dark")
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"credentials", ErrCredentialsNotFound, true},
		{"auth", &AuthenticationFailedError{Status: 419}, true},
		{"expired", fmt.Errorf("batch: %w", ErrSessionExpired), true},
		{"canceled", context.Canceled, true},
		{"fetch", &FetchFailedError{Address: "x", Status: 500}, false},
		{"switch", &VariantSwitchFailedError{Status: 500}, false},
		{"disk", &fs.PathError{Op: "write", Path: "/x", Err: errors.New("no space")}, true},
		{"other", errors.New("odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}
