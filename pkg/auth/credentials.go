package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"
)

// DefaultProfile names the credentials used when no profile is given
const DefaultProfile = "default"

// Credentials holds the client id/secret pair for the search API
type Credentials struct {
	Profile      string    `json:"profile"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks that the pair is complete
func (c *Credentials) Validate() error {
	if c == nil || c.Profile == "" {
		return ErrInvalidCredentials
	}
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("client secret is required")
	}
	return nil
}

// CredentialStore is a backend that persists credentials by profile
type CredentialStore interface {
	Name() string
	Store(creds *Credentials) error
	Retrieve(profile string) (*Credentials, error)
	List() ([]*Credentials, error)
	Delete(profile string) error
	Exists(profile string) bool
}

// Manager tries its stores in order: keyring, encrypted file, environment
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager with every backend available on this host
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit backends
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Stores returns the backend names in lookup order
func (m *Manager) Stores() []string {
	names := make([]string, 0, len(m.stores))
	for _, s := range m.stores {
		names = append(names, s.Name())
	}
	return names
}

// Store saves credentials in the first backend that accepts them and
// returns that backend's name
func (m *Manager) Store(creds *Credentials) (string, error) {
	if creds != nil && creds.Profile == "" {
		creds.Profile = DefaultProfile
	}
	if err := creds.Validate(); err != nil {
		return "", err
	}
	creds.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(creds)
		if err == nil {
			return store.Name(), nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return "", ErrStoreUnavailable
}

// Retrieve gets credentials for profile from the first backend that has them
func (m *Manager) Retrieve(profile string) (*Credentials, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	for _, store := range m.stores {
		if creds, err := store.Retrieve(profile); err == nil && creds != nil {
			return creds, nil
		}
	}
	return nil, fmt.Errorf("%w: profile %s", ErrCredentialsNotFound, profile)
}

// List merges the profiles of all backends, keeping the newest copy of each
func (m *Manager) List() ([]*Credentials, error) {
	byProfile := make(map[string]*Credentials)
	for _, store := range m.stores {
		list, err := store.List()
		if err != nil {
			continue
		}
		for _, creds := range list {
			if existing, ok := byProfile[creds.Profile]; !ok || creds.LastModified.After(existing.LastModified) {
				byProfile[creds.Profile] = creds
			}
		}
	}

	result := make([]*Credentials, 0, len(byProfile))
	for _, creds := range byProfile {
		result = append(result, creds)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Profile < result[j].Profile })
	return result, nil
}

// Delete removes profile from every backend that holds it
func (m *Manager) Delete(profile string) error {
	if profile == "" {
		profile = DefaultProfile
	}
	deleted := false
	var lastErr error
	for _, store := range m.stores {
		err := store.Delete(profile)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrCredentialsNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}
	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w: profile %s", ErrCredentialsNotFound, profile)
}

// Resolve fills in missing client credentials from the stored profile.
// Values already set by config or environment win.
func (m *Manager) Resolve(profile, clientID, clientSecret string) (string, string, error) {
	if clientID != "" && clientSecret != "" {
		return clientID, clientSecret, nil
	}
	creds, err := m.Retrieve(profile)
	if err != nil {
		return clientID, clientSecret, err
	}
	if clientID == "" {
		clientID = creds.ClientID
	}
	if clientSecret == "" {
		clientSecret = creds.ClientSecret
	}
	return clientID, clientSecret, nil
}

func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "harvester")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "harvester")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "harvester")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "harvester")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// Sanitize returns a copy with the secret and most of the id masked
func Sanitize(creds *Credentials) *Credentials {
	if creds == nil {
		return nil
	}
	return &Credentials{
		Profile:      creds.Profile,
		ClientID:     maskString(creds.ClientID),
		ClientSecret: maskString(creds.ClientSecret),
		LastModified: creds.LastModified,
	}
}

// maskString keeps the first and last 4 characters
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
