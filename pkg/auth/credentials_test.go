package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestManagerRoundTrip(t *testing.T) {
	mock := NewMockStore()
	manager := NewManagerWithStores(mock)

	creds := &Credentials{ClientID: "client-id-12345", ClientSecret: "client-secret-67890"}
	store, err := manager.Store(creds)
	require.NoError(t, err)
	assert.Equal(t, "mock", store)
	assert.Equal(t, DefaultProfile, creds.Profile)
	assert.False(t, creds.LastModified.IsZero())

	got, err := manager.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, "client-id-12345", got.ClientID)
	assert.Equal(t, "client-secret-67890", got.ClientSecret)

	list, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, manager.Delete(DefaultProfile))
	assert.Equal(t, 0, mock.Count())

	_, err = manager.Retrieve(DefaultProfile)
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.ErrorIs(t, manager.Delete(DefaultProfile), ErrCredentialsNotFound)
}

func TestManagerStoreValidates(t *testing.T) {
	manager := NewManagerWithStores(NewMockStore())

	_, err := manager.Store(&Credentials{Profile: "p", ClientSecret: "s"})
	assert.Error(t, err)
	_, err = manager.Store(&Credentials{Profile: "p", ClientID: "id"})
	assert.Error(t, err)
	_, err = manager.Store(nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	broken := NewMockStore()
	broken.StoreError = errors.New("keychain locked")
	fallback := NewMockStore()
	manager := NewManagerWithStores(broken, fallback)

	store, err := manager.Store(&Credentials{Profile: "ci", ClientID: "id", ClientSecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "mock", store)
	assert.Equal(t, 0, broken.Count())
	assert.Equal(t, 1, fallback.Count())
	assert.Equal(t, []string{"mock", "mock"}, manager.Stores())
}

func TestManagerResolve(t *testing.T) {
	mock := NewMockStore()
	manager := NewManagerWithStores(mock)
	_, err := manager.Store(&Credentials{Profile: DefaultProfile, ClientID: "stored-id", ClientSecret: "stored-secret"})
	require.NoError(t, err)

	id, secret, err := manager.Resolve("", "", "")
	require.NoError(t, err)
	assert.Equal(t, "stored-id", id)
	assert.Equal(t, "stored-secret", secret)

	id, secret, err = manager.Resolve("", "config-id", "")
	require.NoError(t, err)
	assert.Equal(t, "config-id", id)
	assert.Equal(t, "stored-secret", secret)

	mock.RetrieveError = errors.New("unreachable")
	id, secret, err = manager.Resolve("", "a", "b")
	require.NoError(t, err, "complete config needs no lookup")
	assert.Equal(t, "a", id)
	assert.Equal(t, "b", secret)
}

func TestSanitize(t *testing.T) {
	creds := &Credentials{Profile: "p", ClientID: "abcdefghijkl", ClientSecret: "short"}
	masked := Sanitize(creds)
	assert.Equal(t, "p", masked.Profile)
	assert.Equal(t, "abcd...ijkl", masked.ClientID)
	assert.Equal(t, "********", masked.ClientSecret)
	assert.Nil(t, Sanitize(nil))
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	assert.False(t, store.Exists("ci"))

	require.NoError(t, store.Store(&Credentials{Profile: "ci", ClientID: "encrypted_id", ClientSecret: "encrypted_secret"}))
	require.NoError(t, store.Store(&Credentials{Profile: "dev", ClientID: "dev_id", ClientSecret: "dev_secret"}))

	got, err := store.Retrieve("ci")
	require.NoError(t, err)
	assert.Equal(t, "encrypted_secret", got.ClientSecret)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "encrypted_secret")
	assert.NotContains(t, string(content), "encrypted_id")

	list, err := store.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, store.Delete("ci"))
	require.NoError(t, store.Delete("dev"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file removed with the last profile")
	assert.ErrorIs(t, store.Delete("dev"), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	t.Setenv(PassphraseEnv, "first")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Credentials{Profile: "ci", ClientID: "id", ClientSecret: "secret"}))

	t.Setenv(PassphraseEnv, "second")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("ci")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Credentials{Profile: "ci", ClientID: "id", ClientSecret: "secret"}))

	info, err := os.Stat(filepath.Join(dir, ".passphrase"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Retrieve("ci")
	require.NoError(t, err)
	assert.Equal(t, "secret", got.ClientSecret)
}

func TestEnvironmentStore(t *testing.T) {
	store := NewEnvironmentStore()

	t.Setenv(ClientIDEnv, "")
	t.Setenv(ClientSecretEnv, "")
	_, err := store.Retrieve("")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	list, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	t.Setenv(ClientIDEnv, "env_id")
	t.Setenv(ClientSecretEnv, "env_secret")
	creds, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, creds.Profile)
	assert.Equal(t, "env_id", creds.ClientID)
	assert.True(t, store.Exists("anything"))

	assert.ErrorIs(t, store.Store(&Credentials{}), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("default"), ErrStoreUnavailable)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, store.Store(&Credentials{Profile: "ci", ClientID: "id1", ClientSecret: "s1"}))
	require.NoError(t, store.Store(&Credentials{Profile: "dev", ClientID: "id2", ClientSecret: "s2"}))
	require.NoError(t, store.Store(&Credentials{Profile: "ci", ClientID: "id3", ClientSecret: "s3"}))

	got, err := store.Retrieve("ci")
	require.NoError(t, err)
	assert.Equal(t, "id3", got.ClientID)

	list, err := store.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, store.Delete("ci"))
	assert.False(t, store.Exists("ci"))
	assert.True(t, store.Exists("dev"))
	assert.ErrorIs(t, store.Delete("ci"), ErrCredentialsNotFound)

	list, err = store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "dev", list[0].Profile)
}

func TestManagerListKeepsNewest(t *testing.T) {
	older := NewMockStore()
	newer := NewMockStore()
	manager := NewManagerWithStores(older, newer)

	_, err := manager.Store(&Credentials{Profile: "p", ClientID: "old", ClientSecret: "s"})
	require.NoError(t, err)
	require.NoError(t, newer.Store(&Credentials{Profile: "p", ClientID: "new", ClientSecret: "s", LastModified: older.creds["p"].LastModified.Add(1)}))

	list, err := manager.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ClientID)
}
