package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/chatreply/internal/api/auth"
)

func newApp(out *bytes.Buffer) *cli.App {
	return &cli.App{
		Name:   "chatreply",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}},
		},
		Commands: []*cli.Command{
			ConfigCommand(),
			TokenCommand(),
			EnqueueCommand(),
		},
	}
}

func TestConfigInitThenValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "chatreply.toml")
	var out bytes.Buffer

	require.NoError(t, newApp(&out).Run([]string{"chatreply", "config", "init", "-o", path}))
	assert.Contains(t, out.String(), "Created configuration file")
	assert.Contains(t, out.String(), "backend=redis ttl=5m0s")
	assert.Contains(t, out.String(), "workers=10 attempts=5 job_timeout=2m0s history=20")

	out.Reset()
	require.NoError(t, newApp(&out).Run([]string{"chatreply", "-c", path, "config", "validate"}))
	assert.Contains(t, out.String(), "Configuration is valid: rooms lock through redis for 5m0s")
	assert.Contains(t, out.String(), "API disabled until fixed")
}

func TestConfigShowMasksSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CHATREPLY_LOCK__BACKEND", "postgres")
	t.Setenv("CHATREPLY_SELECTION__MIN_ADDRESSEE_CONFIDENCE", "70")
	path := filepath.Join(t.TempDir(), "chatreply.toml")
	var out bytes.Buffer
	require.NoError(t, newApp(&out).Run([]string{"chatreply", "config", "init", "-o", path}))

	out.Reset()
	require.NoError(t, newApp(&out).Run([]string{"chatreply", "-c", path, "config", "show"}))
	assert.Contains(t, out.String(), "backend=postgres")
	assert.Contains(t, out.String(), "min_addressee_confidence=70")
	assert.Contains(t, out.String(), "api_key=****")
	assert.NotContains(t, out.String(), "your-api-key")
	assert.NotContains(t, out.String(), "change-me")
}

func TestConfigValidateReportsProblems(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CHATREPLY_LOCK__TTL", "1m")
	path := filepath.Join(t.TempDir(), "chatreply.toml")
	var out bytes.Buffer
	require.NoError(t, newApp(&out).Run([]string{"chatreply", "config", "init", "-o", path}))

	err := newApp(&out).Run([]string{"chatreply", "-c", path, "config", "validate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be longer")
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CHATREPLY_API__JWT_SECRET", "0123456789abcdef0123456789abcdef")
	path := filepath.Join(t.TempDir(), "chatreply.toml")
	var out bytes.Buffer
	require.NoError(t, newApp(&out).Run([]string{"chatreply", "config", "init", "-o", path}))

	out.Reset()
	require.NoError(t, newApp(&out).Run([]string{"chatreply", "-c", path, "token", "--org", "12"}))

	token := string(bytes.TrimSpace(out.Bytes()))
	claims, err := auth.NewTokenService("0123456789abcdef0123456789abcdef", "chatreply").Validate(token)
	require.NoError(t, err)
	assert.Equal(t, int64(12), claims.OrganizationID)
}

func TestEnqueueRejectsNonPositiveIDs(t *testing.T) {
	var out bytes.Buffer
	err := newApp(&out).Run([]string{"chatreply", "enqueue", "--org", "1", "--room", "0", "--message", "3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}
