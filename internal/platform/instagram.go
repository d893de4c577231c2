package platform

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	config "github.com/craftline/postpilot/configs"
	"github.com/craftline/postpilot/internal/models"
)

const (
	instagramAuthURL  = "https://www.instagram.com/oauth/authorize"
	instagramTokenURL = "https://api.instagram.com/oauth/access_token"
	instagramGraphURL = "https://graph.instagram.com"
	instagramAPIVer   = "v21.0"
)

type Instagram struct {
	cfg    *config.Config
	client *resty.Client
}

func NewInstagram(cfg *config.Config) *Instagram {
	return &Instagram{
		cfg:    cfg,
		client: newRestClient(cfg.PlatformCallTimeout),
	}
}

func (ig *Instagram) Name() string {
	return models.PlatformInstagram
}

func (ig *Instagram) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", ig.cfg.InstagramClientID)
	params.Add("scope", "instagram_business_basic,instagram_business_content_publish")
	params.Add("response_type", "code")
	params.Add("redirect_uri", ig.cfg.InstagramRedirectURI)
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", instagramAuthURL, params.Encode())
}

// Exchange trades an authorization code for a long-lived token and resolves
// the business account it belongs to. Instagram has no separate refresh
// token; the long-lived token refreshes itself, so it doubles as one.
func (ig *Instagram) Exchange(ctx context.Context, code string) (*Credentials, error) {
	var shortLived struct {
		AccessToken string `json:"access_token"`
		UserID      int64  `json:"user_id"`
	}
	resp, err := ig.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     ig.cfg.InstagramClientID,
			"client_secret": ig.cfg.InstagramClientSecret,
			"grant_type":    "authorization_code",
			"redirect_uri":  ig.cfg.InstagramRedirectURI,
			"code":          code,
		}).
		SetResult(&shortLived).
		Post(instagramTokenURL)
	if err != nil {
		return nil, transientErr(ig.Name(), err)
	}
	if resp.IsError() {
		return nil, classifyStatus(ig.Name(), resp.StatusCode(), resp.String())
	}

	var longLived struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	resp, err = ig.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":    "ig_exchange_token",
			"client_secret": ig.cfg.InstagramClientSecret,
			"access_token":  shortLived.AccessToken,
		}).
		SetResult(&longLived).
		Get(instagramGraphURL + "/access_token")
	if err != nil {
		return nil, transientErr(ig.Name(), err)
	}
	if resp.IsError() {
		return nil, classifyStatus(ig.Name(), resp.StatusCode(), resp.String())
	}

	var userInfo struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	resp, err = ig.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"fields":       "id,username,name",
			"access_token": longLived.AccessToken,
		}).
		SetResult(&userInfo).
		Get(instagramGraphURL + "/me")
	if err != nil {
		return nil, transientErr(ig.Name(), err)
	}
	if resp.IsError() {
		return nil, classifyStatus(ig.Name(), resp.StatusCode(), resp.String())
	}

	name := userInfo.Name
	if name == "" {
		name = userInfo.Username
	}

	return &Credentials{
		AccessToken:  longLived.AccessToken,
		RefreshToken: longLived.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(longLived.ExpiresIn) * time.Second),
		AccountID:    userInfo.ID,
		AccountName:  name,
	}, nil
}

func (ig *Instagram) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	resp, err := ig.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":   "ig_refresh_token",
			"access_token": refreshToken,
		}).
		SetResult(&result).
		Get(instagramGraphURL + "/refresh_access_token")
	if err != nil {
		return nil, transientErr(ig.Name(), err)
	}
	if resp.IsError() {
		return nil, classifyStatus(ig.Name(), resp.StatusCode(), resp.String())
	}

	return &Credentials{
		AccessToken:  result.AccessToken,
		RefreshToken: result.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}, nil
}

// Publish runs the two-step container flow: create a media container (or a
// carousel of them), then publish it. Returns the published media id.
func (ig *Instagram) Publish(ctx context.Context, accessToken, accountID string, post PostContent) (string, error) {
	if len(post.ImageURLs) == 0 {
		return "", &PublishError{Kind: KindRejected, Platform: ig.Name(), Message: "post has no images"}
	}

	var containerID string
	var err error
	if len(post.ImageURLs) == 1 {
		containerID, err = ig.createContainer(ctx, accessToken, accountID, map[string]any{
			"image_url": post.ImageURLs[0],
			"caption":   post.Caption,
		})
	} else {
		containerID, err = ig.createCarousel(ctx, accessToken, accountID, post)
	}
	if err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	publishURL := fmt.Sprintf("%s/%s/%s/media_publish", instagramGraphURL, instagramAPIVer, accountID)
	resp, err := ig.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"creation_id":  containerID,
			"access_token": accessToken,
		}).
		SetResult(&result).
		Post(publishURL)
	if err != nil {
		return "", transientErr(ig.Name(), err)
	}
	if resp.IsError() {
		return "", classifyStatus(ig.Name(), resp.StatusCode(), resp.String())
	}
	if result.ID == "" {
		return "", &PublishError{Kind: KindTransient, Platform: ig.Name(), Message: "no media id in publish response"}
	}

	return result.ID, nil
}

func (ig *Instagram) createContainer(ctx context.Context, accessToken, accountID string, payload map[string]any) (string, error) {
	payload["access_token"] = accessToken

	var result struct {
		ID string `json:"id"`
	}
	mediaURL := fmt.Sprintf("%s/%s/%s/media", instagramGraphURL, instagramAPIVer, accountID)
	resp, err := ig.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post(mediaURL)
	if err != nil {
		return "", transientErr(ig.Name(), err)
	}
	if resp.IsError() {
		return "", classifyStatus(ig.Name(), resp.StatusCode(), resp.String())
	}
	if result.ID == "" {
		return "", &PublishError{Kind: KindTransient, Platform: ig.Name(), Message: "no container id in media response"}
	}
	return result.ID, nil
}

func (ig *Instagram) createCarousel(ctx context.Context, accessToken, accountID string, post PostContent) (string, error) {
	children := make([]string, 0, len(post.ImageURLs))
	for _, imageURL := range post.ImageURLs {
		childID, err := ig.createContainer(ctx, accessToken, accountID, map[string]any{
			"image_url":        imageURL,
			"is_carousel_item": true,
		})
		if err != nil {
			return "", err
		}
		children = append(children, childID)
	}

	return ig.createContainer(ctx, accessToken, accountID, map[string]any{
		"media_type": "CAROUSEL",
		"caption":    post.Caption,
		"children":   children,
	})
}
