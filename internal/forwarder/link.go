package forwarder

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/validation"
)

const (
	DefaultSubmissionPath = "/tasks/add_via_extension"
	DefaultLoginPath      = "/login"
	DefaultLinkField      = "youtube_url"
)

// IsSupportedLink reports whether text is a link the remote targets accept
func IsSupportedLink(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasPrefix(text, "https://youtu.be/") ||
		strings.HasPrefix(text, "http://youtu.be/") ||
		strings.Contains(text, "youtube.com/watch") ||
		strings.Contains(text, "youtube.com/playlist") ||
		strings.Contains(text, "youtu.be/playlist")
}

// NormalizeEndpoint validates raw and returns the URL that will be stored.
// Credentials, query and fragment are dropped; a bare host gets submissionPath.
func NormalizeEndpoint(raw, submissionPath string) (string, error) {
	raw = strings.TrimSpace(raw)
	if err := validation.Endpoint(raw); err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidConfiguration, err)
	}
	if submissionPath == "" {
		submissionPath = DefaultSubmissionPath
	}

	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Path == "" || u.Path == "/" {
		u.Path = submissionPath
		u.RawPath = ""
	}
	return u.String(), nil
}

// LoginURL derives the login route from a tenant endpoint
func LoginURL(endpoint, submissionPath, loginPath string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidConfiguration, err)
	}
	if submissionPath == "" {
		submissionPath = DefaultSubmissionPath
	}
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.RawPath = ""
	if strings.HasSuffix(u.Path, submissionPath) {
		u.Path = strings.TrimSuffix(u.Path, submissionPath) + loginPath
	} else {
		u.Path = loginPath
	}
	return u.String(), nil
}
