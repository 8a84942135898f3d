package evm

import (
	"errors"
	"fmt"
)

// URLSchemePreference selects which endpoint of an RPC is dialed.
type URLSchemePreference int

const (
	URLSchemePreferenceHTTP URLSchemePreference = iota
	URLSchemePreferenceWS
)

// URLSchemePreferenceFromString parses "http" or "ws". An empty string selects http.
func URLSchemePreferenceFromString(s string) (URLSchemePreference, error) {
	switch s {
	case "", "http":
		return URLSchemePreferenceHTTP, nil
	case "ws":
		return URLSchemePreferenceWS, nil
	default:
		return URLSchemePreferenceHTTP, fmt.Errorf("invalid URL scheme preference: %s", s)
	}
}

// RPC is a single chain RPC endpoint.
type RPC struct {
	Name               string
	HTTPURL            string
	WSURL              string
	PreferredURLScheme URLSchemePreference
}

// ToEndpoint returns the URL to dial based on the preferred scheme.
func (r RPC) ToEndpoint() (string, error) {
	switch r.PreferredURLScheme {
	case URLSchemePreferenceWS:
		if r.WSURL == "" {
			return "", errors.New("ws url is required when ws is preferred")
		}

		return r.WSURL, nil
	default:
		if r.HTTPURL == "" {
			return "", errors.New("http url is required when http is preferred")
		}

		return r.HTTPURL, nil
	}
}

// RPCConfig is the endpoint configuration of a single chain.
type RPCConfig struct {
	ChainID uint64
	Name    string
	RPCs    []RPC
}
