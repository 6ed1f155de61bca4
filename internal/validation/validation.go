// Package validation checks tenant-supplied configuration before it is persisted.
package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
)

// MaxSecretLength bounds the stored secret
const MaxSecretLength = 256

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator returns the shared validator instance
func Validator() *validator.Validate {
	return validate
}

// Endpoint checks that raw is an absolute http(s) URL with a host.
// The returned error wraps model.ErrInvalidConfiguration.
func Endpoint(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: endpoint URL is empty", model.ErrInvalidConfiguration)
	}
	if err := validate.Var(raw, "http_url"); err != nil {
		return fmt.Errorf("%w: endpoint must be an absolute http:// or https:// URL", model.ErrInvalidConfiguration)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: endpoint URL has no host", model.ErrInvalidConfiguration)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", model.ErrInvalidConfiguration, u.Scheme)
	}
	return nil
}

// Secret accepts the empty string (no secret) or a printable value up to MaxSecretLength
func Secret(secret string) error {
	if secret == "" {
		return nil
	}
	if len(secret) > MaxSecretLength {
		return fmt.Errorf("%w: secret longer than %d bytes", model.ErrInvalidConfiguration, MaxSecretLength)
	}
	for _, r := range secret {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: secret contains control characters", model.ErrInvalidConfiguration)
		}
	}
	return nil
}
