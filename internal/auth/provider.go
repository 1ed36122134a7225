// Package auth owns the storefront side of delegated social sign-in: it keeps
// the pending provider session between redirect and callback, runs the
// sign-in decision and issues session tokens. The credential exchange itself
// is done by goth providers.
package auth

import (
	"github.com/markbates/goth"
	"github.com/markbates/goth/providers/twitter"
)

// Provider is an identity provider: auth redirect, token exchange and
// profile fetch.
type Provider = goth.Provider

// TwitterConfig holds the environment-supplied Twitter credentials.
type TwitterConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// NewTwitterProvider returns the goth Twitter provider.
func NewTwitterProvider(cfg TwitterConfig) Provider {
	return twitter.New(cfg.ClientID, cfg.ClientSecret, cfg.CallbackURL)
}
