package domain

import "strings"

// Credentials authenticate calls to the service. SecondaryKey is the optional
// model-provider key forwarded alongside the service key.
type Credentials struct {
	APIKey       string
	SecondaryKey string
}

// Usable reports whether an API key is present.
func (c Credentials) Usable() bool {
	return strings.TrimSpace(c.APIKey) != ""
}
