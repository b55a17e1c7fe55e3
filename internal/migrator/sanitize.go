package migrator

import (
	"fmt"
	"net/url"
	"strings"
)

// sanitizeConnectionError strips credentials golang-migrate would otherwise
// embed verbatim in its connection error, since that error is commonly
// logged by callers.
func sanitizeConnectionError(err error, dbURL string) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()
	if dbURL == "" {
		return fmt.Errorf("migrator: new: %s", errMsg)
	}

	u, parseErr := url.Parse(dbURL)
	if parseErr != nil || u == nil || u.Host == "" {
		return fmt.Errorf("migrator: new: %s", strings.ReplaceAll(errMsg, dbURL, "[DATABASE_URL_REDACTED]"))
	}

	safeURL := fmt.Sprintf("%s://[REDACTED]@%s%s", u.Scheme, u.Host, u.Path)
	sanitized := strings.ReplaceAll(errMsg, dbURL, safeURL)
	if u.User != nil {
		if pass, ok := u.User.Password(); ok && pass != "" {
			sanitized = strings.ReplaceAll(sanitized, pass, "[REDACTED]")
		}
	}
	return fmt.Errorf("migrator: new: %s", sanitized)
}
