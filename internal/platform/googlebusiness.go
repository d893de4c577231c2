package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	config "github.com/craftline/postpilot/configs"
	"github.com/craftline/postpilot/internal/models"
)

const (
	gbpAccountsURL  = "https://mybusinessaccountmanagement.googleapis.com/v1/accounts"
	gbpLocationsURL = "https://mybusinessbusinessinformation.googleapis.com/v1/%s/locations?readMask=name,title"
	gbpPostsURL     = "https://mybusiness.googleapis.com/v4/%s/localPosts"
)

// GoogleBusiness publishes "What's New" posts to a tenant's Business Profile
// location. Token flows go through the standard Google OAuth endpoints; the
// stored account id is the location resource name (accounts/x/locations/y).
type GoogleBusiness struct {
	cfg    *config.Config
	oauth  *oauth2.Config
	client *resty.Client
}

func NewGoogleBusiness(cfg *config.Config) *GoogleBusiness {
	return &GoogleBusiness{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			Scopes:       []string{"https://www.googleapis.com/auth/business.manage"},
			Endpoint:     google.Endpoint,
		},
		client: newRestClient(cfg.PlatformCallTimeout),
	}
}

func (gb *GoogleBusiness) Name() string {
	return models.PlatformGoogleBusiness
}

func (gb *GoogleBusiness) AuthURL(state string) string {
	return gb.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (gb *GoogleBusiness) Exchange(ctx context.Context, code string) (*Credentials, error) {
	token, err := gb.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, gb.classifyOAuthErr("code exchange failed", err)
	}

	locationName, locationTitle, err := gb.resolveLocation(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		AccountID:    locationName,
		AccountName:  locationTitle,
	}, nil
}

func (gb *GoogleBusiness) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	source := gb.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, gb.classifyOAuthErr("token refresh failed", err)
	}

	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	return &Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    token.Expiry,
	}, nil
}

// classifyOAuthErr separates a token-endpoint rejection from a transport
// failure. A dead credential (invalid_grant, revoked consent) comes back as a
// RetrieveError with a 4xx status; an error with no response at all never
// reached Google and may succeed on the next run.
func (gb *GoogleBusiness) classifyOAuthErr(message string, err error) *PublishError {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		kind := KindTransient
		if code := rerr.Response.StatusCode; code >= 400 && code < 500 && code != 429 {
			kind = KindAuth
		}
		return &PublishError{Kind: kind, Platform: gb.Name(), Message: message, Err: err}
	}
	return &PublishError{Kind: KindTransient, Platform: gb.Name(), Message: message, Err: err}
}

func (gb *GoogleBusiness) resolveLocation(ctx context.Context, accessToken string) (string, string, error) {
	var accounts struct {
		Accounts []struct {
			Name string `json:"name"`
		} `json:"accounts"`
	}
	resp, err := gb.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&accounts).
		Get(gbpAccountsURL)
	if err != nil {
		return "", "", transientErr(gb.Name(), err)
	}
	if resp.IsError() {
		return "", "", classifyStatus(gb.Name(), resp.StatusCode(), resp.String())
	}
	if len(accounts.Accounts) == 0 {
		return "", "", &PublishError{Kind: KindRejected, Platform: gb.Name(), Message: "no business account"}
	}

	var locations struct {
		Locations []struct {
			Name  string `json:"name"`
			Title string `json:"title"`
		} `json:"locations"`
	}
	resp, err = gb.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&locations).
		Get(fmt.Sprintf(gbpLocationsURL, accounts.Accounts[0].Name))
	if err != nil {
		return "", "", transientErr(gb.Name(), err)
	}
	if resp.IsError() {
		return "", "", classifyStatus(gb.Name(), resp.StatusCode(), resp.String())
	}
	if len(locations.Locations) == 0 {
		return "", "", &PublishError{Kind: KindRejected, Platform: gb.Name(), Message: "no business location"}
	}

	loc := locations.Locations[0]
	return fmt.Sprintf("%s/%s", accounts.Accounts[0].Name, loc.Name), loc.Title, nil
}

// Publish creates a STANDARD local post with the first image attached.
// Business Profile posts carry at most one photo.
func (gb *GoogleBusiness) Publish(ctx context.Context, accessToken, locationName string, post PostContent) (string, error) {
	if len(post.ImageURLs) == 0 {
		return "", &PublishError{Kind: KindRejected, Platform: gb.Name(), Message: "post has no images"}
	}

	var result struct {
		Name string `json:"name"`
	}
	resp, err := gb.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(map[string]any{
			"languageCode": "en",
			"topicType":    "STANDARD",
			"summary":      post.Caption,
			"media": []map[string]string{
				{"mediaFormat": "PHOTO", "sourceUrl": post.ImageURLs[0]},
			},
		}).
		SetResult(&result).
		Post(fmt.Sprintf(gbpPostsURL, locationName))
	if err != nil {
		return "", transientErr(gb.Name(), err)
	}
	if resp.IsError() {
		return "", classifyStatus(gb.Name(), resp.StatusCode(), resp.String())
	}
	if result.Name == "" {
		return "", &PublishError{Kind: KindTransient, Platform: gb.Name(), Message: "no post name in response"}
	}
	return result.Name, nil
}
