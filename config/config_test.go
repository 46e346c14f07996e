package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8085, cfg.Port)
	assert.Equal(t, int64(10<<20), cfg.ReadBufferSize)
	assert.Equal(t, int64(16<<20), cfg.UploadBufferSize)
	assert.Equal(t, 1000, cfg.CacheSize)
	assert.Equal(t, 600, cfg.CacheTTL)
	assert.Equal(t, "/", cfg.Root)
	assert.False(t, cfg.NoTrash)
	assert.False(t, cfg.ReadOnly)
	assert.Equal(t, "default", cfg.DriveType)
}

func TestLoadOverridesFromFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--host", "127.0.0.1",
		"--port", "9090",
		"--refresh-token", "tok-1",
		"--no-trash",
		"--read-only",
		"--drive-type", "resource",
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "tok-1", cfg.RefreshToken)
	assert.True(t, cfg.NoTrash)
	assert.True(t, cfg.ReadOnly)
	assert.Equal(t, "resource", cfg.DriveType)
}

func TestLoadRejectsTLSWithOnlyOneOfCertOrKey(t *testing.T) {
	_, err := Load([]string{"--tls-cert", "/tmp/cert.pem"})
	assert.Error(t, err)
}

func TestLoadAcceptsTLSWithBoth(t *testing.T) {
	cfg, err := Load([]string{"--tls-cert", "/tmp/cert.pem", "--tls-key", "/tmp/key.pem"})
	require.NoError(t, err)
	assert.True(t, cfg.TLSEnabled())
}

func TestLoadRejectsAuthUserWithoutPassword(t *testing.T) {
	_, err := Load([]string{"--auth-user", "alice"})
	assert.Error(t, err)
}

func TestLoadAcceptsAuthUserAndPasswordTogether(t *testing.T) {
	cfg, err := Load([]string{"--auth-user", "alice", "--auth-password", "secret"})
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.AuthUser)
	assert.Equal(t, "secret", cfg.AuthPassword)
}

func TestAddr(t *testing.T) {
	cfg, err := Load([]string{"--host", "0.0.0.0", "--port", "8085"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8085", cfg.Addr())
}

func TestLoadRejectsUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--not-a-real-flag"})
	assert.Error(t, err)
}
