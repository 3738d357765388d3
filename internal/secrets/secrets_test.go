package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trackhive/trackhive/internal/config"
)

func TestTokenPrefersEnvironment(t *testing.T) {
	r := NewResolver(&config.Settings{HFToken: "env-token", SpaceAuthorName: "alice"})
	token, err := r.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "env-token", token)
}

func TestTokenExpiredOpaqueNeverExpires(t *testing.T) {
	require.False(t, tokenExpired("hf_plainOpaqueToken"))
}

func TestTokenFallsBackToAccountDefault(t *testing.T) {
	r := NewResolver(&config.Settings{})
	require.Equal(t, "default", r.account)
}
