package flow

import "github.com/alexjbarnes/authcore/internal/models"

//go:generate mockgen -destination=mocks/mock_deps.go -package=mocks -source=deps.go ClientRegistry,UserDirectory

// ClientRegistry looks up and authenticates registered OAuth clients.
type ClientRegistry interface {
	// Client returns the client with clientID, or nil when unknown.
	Client(clientID string) *models.Client
	// AuthenticateClient verifies a client secret. Failures are
	// ErrInvalidClientCredentials.
	AuthenticateClient(clientID, secret string) (*models.Client, error)
}

// UserDirectory looks up and authenticates end users.
type UserDirectory interface {
	// User returns the user with id, or nil when unknown.
	User(id string) *models.User
	// Authenticate verifies a username and password. Failures are
	// ErrAuthenticationFailed.
	Authenticate(username, password string) (*models.User, error)
}
