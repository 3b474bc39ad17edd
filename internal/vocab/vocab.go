// Package vocab resolves controlled vocabulary labels to URLs, either via a
// remote authority or a local authority that mints entries on demand.
package vocab

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

type Service interface {
	// RemoteURL looks the label up in the named remote authority. An empty
	// result with nil error means the authority had no answer.
	RemoteURL(ctx context.Context, authority, field, label string) (string, error)
	// LocalURL finds the label in the local subauthority, minting a new entry
	// when absent.
	LocalURL(ctx context.Context, subauthority, label string) (string, error)
}

// LocalAuthority is an in-process Service backed by mint-on-demand local
// authority entries. Remote lookups always miss; labels fall through to the
// local authority, matching the behavior of deployments without a remote
// authority endpoint.
type LocalAuthority struct {
	baseURL string

	mu      sync.Mutex
	entries map[string]string // subauthority/label -> url
}

// Make sure we conform to Service interface
var _ Service = (*LocalAuthority)(nil)

func NewLocalAuthority(baseURL string) *LocalAuthority {
	return &LocalAuthority{baseURL: strings.TrimSuffix(baseURL, "/"), entries: map[string]string{}}
}

func (a *LocalAuthority) RemoteURL(_ context.Context, authority, field, label string) (string, error) {
	return "", nil
}

func (a *LocalAuthority) LocalURL(_ context.Context, subauthority, label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", fmt.Errorf("empty label")
	}
	key := subauthority + "/" + label
	a.mu.Lock()
	defer a.mu.Unlock()
	if url, ok := a.entries[key]; ok {
		return url, nil
	}
	url := fmt.Sprintf("%s/authorities/show/local/%s/%s", a.baseURL, subauthority, parameterize(label))
	a.entries[key] = url
	return url, nil
}

var parameterizeRe = regexp.MustCompile(`[^a-z0-9]+`)

func parameterize(s string) string {
	s = parameterizeRe.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}
