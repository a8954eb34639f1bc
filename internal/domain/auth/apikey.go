package auth

import "context"

// APIKeyInfo holds the identity and role bound to a stored API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Role    Role
	Scopes  []string
}

// Actor returns the request actor authenticated by this key.
func (k *APIKeyInfo) Actor() Actor {
	return Actor{ID: k.ID, Name: k.Name, Role: k.Role}
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
