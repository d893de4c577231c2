package platform

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	config "github.com/craftline/postpilot/configs"
	"github.com/craftline/postpilot/internal/models"
)

// PostContent is the generic shape every adapter knows how to publish.
type PostContent struct {
	Caption   string
	ImageURLs []string
}

// Credentials is the platform-neutral result of an OAuth exchange or refresh.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	AccountID    string
	AccountName  string
}

// Adapter publishes one post against a platform API. Publish returns the
// external post id on success; failures carry a PublishError kind.
type Adapter interface {
	Name() string
	Publish(ctx context.Context, accessToken, accountID string, post PostContent) (string, error)
}

// OAuthProvider covers the credential lifecycle of one platform.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Credentials, error)
	Refresh(ctx context.Context, refreshToken string) (*Credentials, error)
}

// Platform bundles publishing and credential flows for one network.
type Platform interface {
	Adapter
	OAuthProvider
}

type Registry map[string]Platform

func NewRegistry(cfg *config.Config) Registry {
	return Registry{
		models.PlatformInstagram:      NewInstagram(cfg),
		models.PlatformFacebook:       NewFacebook(cfg),
		models.PlatformGoogleBusiness: NewGoogleBusiness(cfg),
	}
}

func newRestClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}
