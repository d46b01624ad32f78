package collector

import (
	"fmt"
	"strings"

	"blacklist/internal/support"
)

// CredentialStore resolves portal credentials by source name. Storage and
// encryption of the underlying secrets are outside this interface.
type CredentialStore interface {
	Lookup(source string) (Credentials, error)
}

// EnvCredentialStore reads <SOURCE>_USERNAME / <SOURCE>_PASSWORD from the
// environment, e.g. REGTECH_USERNAME.
type EnvCredentialStore struct{}

func (EnvCredentialStore) Lookup(source string) (Credentials, error) {
	prefix := strings.ToUpper(strings.ReplaceAll(source, "-", "_"))

	creds := Credentials{
		Username: support.GetEnv(prefix+"_USERNAME", ""),
		Password: support.GetEnv(prefix+"_PASSWORD", ""),
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("credentials for source %q not configured", source)
	}
	return creds, nil
}
