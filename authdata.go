package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// We need to save the client id, secret and token endpoint along with the
// refresh token so that a refresh doesn't need the client secret file.

type SavedAuthData struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scope        string
	SavedToken   oauth2.Token
}

// ErrNoTokens is returned by a Persister that has nothing stored.
var ErrNoTokens = errors.New("no saved tokens")

type Persister interface {
	ReadTokens() ([]byte, error)
	WriteTokens(data []byte) error
	DeleteTokens() error
}

// config rebuilds enough of an oauth2.Config to refresh the saved token.
func (sad *SavedAuthData) config() *oauth2.Config {
	tokenURL := sad.TokenURL
	if tokenURL == "" {
		tokenURL = google.Endpoint.TokenURL
	}
	return &oauth2.Config{
		ClientID:     sad.ClientID,
		ClientSecret: sad.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// grantedScope picks the scope the server reported with tok, falling back
// to the requested scopes.
func grantedScope(tok *oauth2.Token, requested []string) string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return s
	}
	return strings.Join(requested, " ")
}

// saveAuthData writes out sad with p.
func saveAuthData(p Persister, sad *SavedAuthData) error {
	buffy := &bytes.Buffer{}
	encoder := json.NewEncoder(buffy)

	if err := encoder.Encode(sad); err != nil {
		return fmt.Errorf("can't encode SavedAuthData: %v", err)
	}

	if err := p.WriteTokens(buffy.Bytes()); err != nil {
		return errors.Wrap(err, "can't write tokens")
	}
	return nil
}

// loadAuthData reads a SavedAuthData from p. It returns ErrNoTokens (possibly
// wrapped) when nothing is stored.
func loadAuthData(p Persister) (*SavedAuthData, error) {
	data, err := p.ReadTokens()
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	sad := new(SavedAuthData)
	if err := decoder.Decode(sad); err != nil {
		return nil, errors.Wrap(err, "can't decode json payload into SavedAuthData")
	}
	return sad, nil
}
