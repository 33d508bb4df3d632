package token

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moddy-bot/moddy/platform/go/auth"
	"github.com/moddy-bot/moddy/platform/go/setups"
)

func TestIssue(t *testing.T) {
	t.Setenv(setups.DotEnvPathEnv, filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("INTERNAL_API_SECRET", "cli-secret")

	var out bytes.Buffer
	cmd := Command()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"issue", "--subject", "dashboard", "--actor-id", "42", "--staff"})
	require.NoError(t, cmd.Execute())

	verifier, err := auth.NewHMACVerifier([]byte("cli-secret"))
	require.NoError(t, err)
	claims, err := verifier.Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)

	creds, err := auth.DefaultCredentialExtractor(claims)
	require.NoError(t, err)
	require.Equal(t, "dashboard", creds.Subject)
	require.True(t, creds.IsStaff)
	require.Equal(t, int64(42), *creds.ActorID)
}

func TestIssueRequiresSecret(t *testing.T) {
	t.Setenv(setups.DotEnvPathEnv, filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("INTERNAL_API_SECRET", "")

	cmd := Command()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"issue"})
	require.ErrorContains(t, cmd.Execute(), "INTERNAL_API_SECRET")
}
