// Package auth exposes the read side of the client's credential store.
//
// Login and token refresh live elsewhere; the notification pipeline only ever
// asks "is there a bearer token right now, and what is it".
package auth

import (
	"errors"
	"sync"

	"golang.org/x/oauth2"
)

// ErrNoCredential is returned by TokenSource when no token is available
var ErrNoCredential = errors.New("no access token available")

// TokenProvider is the synchronous read interface over the credential store
type TokenProvider interface {
	AccessToken() (string, bool)
}

// Static always returns the same token. The empty string means "absent".
type Static string

func (s Static) AccessToken() (string, bool) {
	return string(s), s != ""
}

// Holder is a mutable in-memory credential store, populated by the login
// flow and cleared on logout.
type Holder struct {
	mu    sync.RWMutex
	token string
}

// Set stores a new access token
func (h *Holder) Set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

// Clear forgets the current token
func (h *Holder) Clear() {
	h.Set("")
}

func (h *Holder) AccessToken() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token, h.token != ""
}

// FromTokenSource adapts an oauth2.TokenSource. A source that errors or yields
// an invalid (expired) token reads as absent.
func FromTokenSource(src oauth2.TokenSource) TokenProvider {
	return tokenSourceProvider{src: src}
}

type tokenSourceProvider struct {
	src oauth2.TokenSource
}

func (p tokenSourceProvider) AccessToken() (string, bool) {
	tok, err := p.src.Token()
	if err != nil || !tok.Valid() {
		return "", false
	}
	return tok.AccessToken, true
}

// TokenSource adapts a TokenProvider to oauth2.TokenSource so it can drive an
// oauth2.Transport.
func TokenSource(p TokenProvider) oauth2.TokenSource {
	return providerSource{p: p}
}

type providerSource struct {
	p TokenProvider
}

func (s providerSource) Token() (*oauth2.Token, error) {
	token, ok := s.p.AccessToken()
	if !ok {
		return nil, ErrNoCredential
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}
