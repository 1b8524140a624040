package remotefs

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneclicksftp/sftpsyncd/internal/syncengine"
)

func TestAuthMethodFor_Password(t *testing.T) {
	c := &syncengine.Connection{AuthType: syncengine.AuthPassword, Password: "secret"}
	method, err := authMethodFor(c)
	require.NoError(t, err)
	assert.Equal(t, "password", method.Method())
}

func TestAuthMethodFor_Key(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_rsa")
	writeTestKey(t, keyPath)

	c := &syncengine.Connection{AuthType: syncengine.AuthKey, PrivateKeyPath: keyPath}
	method, err := authMethodFor(c)
	require.NoError(t, err)
	assert.Equal(t, "publickey", method.Method())
}

func TestAuthMethodFor_UnsupportedType(t *testing.T) {
	c := &syncengine.Connection{AuthType: "totp"}
	_, err := authMethodFor(c)
	assert.ErrorIs(t, err, ErrUnsupportedAuthType)
}

func TestAuthMethodFor_MissingKeyFile(t *testing.T) {
	c := &syncengine.Connection{AuthType: syncengine.AuthKey, PrivateKeyPath: "/does/not/exist"}
	_, err := authMethodFor(c)
	assert.Error(t, err)
}

func TestNormalizePosix(t *testing.T) {
	assert.Equal(t, "/", normalizePosix(""))
	assert.Equal(t, "/", normalizePosix("/"))
	assert.Equal(t, "/a/b", normalizePosix("/a/b/"))
	assert.Equal(t, "a/b", normalizePosix("a/b/"))
}

func TestJoinPosixAndRel(t *testing.T) {
	assert.Equal(t, "/a", joinPosix("/", "a"))
	assert.Equal(t, "/a/b", joinPosix("/a", "b"))
	assert.Equal(t, "a", joinRel("", "a"))
	assert.Equal(t, "a/b", joinRel("a", "b"))
}

func TestSplitNonEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitNonEmpty("/a/b/c/"))
	assert.Nil(t, splitNonEmpty("/"))
}

// writeTestKey generates a throwaway ed25519 key pair for auth-method
// tests; the key never needs to authenticate against a real server.
func writeTestKey(t *testing.T, path string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
}
