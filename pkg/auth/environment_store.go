package auth

import (
	"os"
	"time"
)

const (
	ClientIDEnv     = "HARVESTER_SEARCH_CLIENT_ID"
	ClientSecretEnv = "HARVESTER_SEARCH_CLIENT_SECRET"
)

// EnvironmentStore is a read-only backend over the process environment.
// It answers for any profile.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Name() string { return "environment" }

func (e *EnvironmentStore) Store(creds *Credentials) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(profile string) (*Credentials, error) {
	clientID := os.Getenv(ClientIDEnv)
	clientSecret := os.Getenv(ClientSecretEnv)
	if clientID == "" || clientSecret == "" {
		return nil, ErrCredentialsNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Credentials{
		Profile:      profile,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		LastModified: time.Now(),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Credentials, error) {
	creds, err := e.Retrieve("")
	if err != nil {
		return []*Credentials{}, nil
	}
	return []*Credentials{creds}, nil
}

func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(profile string) bool {
	return os.Getenv(ClientIDEnv) != "" && os.Getenv(ClientSecretEnv) != ""
}
