package secrets

import (
	"context"
	"fmt"
)

// Credentials holds the retrieved username and password.
type Credentials struct {
	Username string
	Password string
}

// SecretManager is a source of destination database credentials.
type SecretManager interface {
	// GetCredentials retrieves credentials stored at pathOrID under the given keys.
	GetCredentials(ctx context.Context, pathOrID string, usernameKey string, passwordKey string) (*Credentials, error)

	IsEnabled() bool
}

// EnvCredentials serves the DB_USER / DB_PASSWORD values from configuration.
type EnvCredentials struct {
	Username string
	Password string
}

var _ SecretManager = EnvCredentials{}

func (e EnvCredentials) GetCredentials(_ context.Context, _, _, _ string) (*Credentials, error) {
	if e.Password == "" {
		return nil, fmt.Errorf("no password configured in environment")
	}
	return &Credentials{Username: e.Username, Password: e.Password}, nil
}

// IsEnabled is always false; env credentials are the fallback, not a secret backend.
func (e EnvCredentials) IsEnabled() bool { return false }
