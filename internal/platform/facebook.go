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
	facebookAuthURL  = "https://www.facebook.com/v21.0/dialog/oauth"
	facebookGraphURL = "https://graph.facebook.com/v21.0"
)

// Facebook publishes to a tenant's Facebook Page. The stored access token is
// the page token; Facebook issues no refresh token, so the long-lived token
// itself is stored as the refresh credential and re-exchanged.
type Facebook struct {
	cfg    *config.Config
	client *resty.Client
}

func NewFacebook(cfg *config.Config) *Facebook {
	return &Facebook{
		cfg:    cfg,
		client: newRestClient(cfg.PlatformCallTimeout),
	}
}

func (fb *Facebook) Name() string {
	return models.PlatformFacebook
}

func (fb *Facebook) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", fb.cfg.FacebookAppID)
	params.Add("redirect_uri", fb.cfg.FacebookRedirectURI)
	params.Add("scope", "pages_show_list,pages_manage_posts,pages_read_engagement")
	params.Add("response_type", "code")
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", facebookAuthURL, params.Encode())
}

func (fb *Facebook) Exchange(ctx context.Context, code string) (*Credentials, error) {
	var userToken struct {
		AccessToken string `json:"access_token"`
	}
	resp, err := fb.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client_id":     fb.cfg.FacebookAppID,
			"client_secret": fb.cfg.FacebookAppSecret,
			"redirect_uri":  fb.cfg.FacebookRedirectURI,
			"code":          code,
		}).
		SetResult(&userToken).
		Get(facebookGraphURL + "/oauth/access_token")
	if err != nil {
		return nil, transientErr(fb.Name(), err)
	}
	if resp.IsError() {
		return nil, classifyStatus(fb.Name(), resp.StatusCode(), resp.String())
	}

	longLived, err := fb.exchangeLongLived(ctx, userToken.AccessToken)
	if err != nil {
		return nil, err
	}

	var pages struct {
		Data []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	resp, err = fb.client.R().
		SetContext(ctx).
		SetQueryParam("access_token", longLived.AccessToken).
		SetResult(&pages).
		Get(facebookGraphURL + "/me/accounts")
	if err != nil {
		return nil, transientErr(fb.Name(), err)
	}
	if resp.IsError() {
		return nil, classifyStatus(fb.Name(), resp.StatusCode(), resp.String())
	}
	if len(pages.Data) == 0 {
		return nil, &PublishError{Kind: KindRejected, Platform: fb.Name(), Message: "account manages no pages"}
	}

	page := pages.Data[0]
	return &Credentials{
		AccessToken:  page.AccessToken,
		RefreshToken: longLived.AccessToken,
		ExpiresAt:    longLived.ExpiresAt,
		AccountID:    page.ID,
		AccountName:  page.Name,
	}, nil
}

// Refresh re-runs the fb_exchange_token flow with the stored long-lived user
// token and re-resolves the page token from it.
func (fb *Facebook) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	longLived, err := fb.exchangeLongLived(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	var pages struct {
		Data []struct {
			ID          string `json:"id"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	resp, err := fb.client.R().
		SetContext(ctx).
		SetQueryParam("access_token", longLived.AccessToken).
		SetResult(&pages).
		Get(facebookGraphURL + "/me/accounts")
	if err != nil {
		return nil, transientErr(fb.Name(), err)
	}
	if resp.IsError() {
		return nil, classifyStatus(fb.Name(), resp.StatusCode(), resp.String())
	}
	if len(pages.Data) == 0 {
		return nil, &PublishError{Kind: KindAuth, Platform: fb.Name(), Message: "page access lost"}
	}

	return &Credentials{
		AccessToken:  pages.Data[0].AccessToken,
		RefreshToken: longLived.AccessToken,
		ExpiresAt:    longLived.ExpiresAt,
	}, nil
}

func (fb *Facebook) exchangeLongLived(ctx context.Context, token string) (*Credentials, error) {
	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	resp, err := fb.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":        "fb_exchange_token",
			"client_id":         fb.cfg.FacebookAppID,
			"client_secret":     fb.cfg.FacebookAppSecret,
			"fb_exchange_token": token,
		}).
		SetResult(&result).
		Get(facebookGraphURL + "/oauth/access_token")
	if err != nil {
		return nil, transientErr(fb.Name(), err)
	}
	if resp.IsError() {
		return nil, classifyStatus(fb.Name(), resp.StatusCode(), resp.String())
	}

	expiresAt := time.Now().Add(60 * 24 * time.Hour)
	if result.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	return &Credentials{AccessToken: result.AccessToken, ExpiresAt: expiresAt}, nil
}

// Publish posts a single photo directly, or a feed post with attached
// unpublished photos when the entry carries several images.
func (fb *Facebook) Publish(ctx context.Context, accessToken, pageID string, post PostContent) (string, error) {
	if len(post.ImageURLs) == 0 {
		return "", &PublishError{Kind: KindRejected, Platform: fb.Name(), Message: "post has no images"}
	}

	if len(post.ImageURLs) == 1 {
		var result struct {
			PostID string `json:"post_id"`
			ID     string `json:"id"`
		}
		resp, err := fb.client.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"url":          post.ImageURLs[0],
				"message":      post.Caption,
				"access_token": accessToken,
			}).
			SetResult(&result).
			Post(fmt.Sprintf("%s/%s/photos", facebookGraphURL, pageID))
		if err != nil {
			return "", transientErr(fb.Name(), err)
		}
		if resp.IsError() {
			return "", classifyStatus(fb.Name(), resp.StatusCode(), resp.String())
		}
		if result.PostID != "" {
			return result.PostID, nil
		}
		return result.ID, nil
	}

	attachedMedia := make([]map[string]string, 0, len(post.ImageURLs))
	for _, imageURL := range post.ImageURLs {
		var photo struct {
			ID string `json:"id"`
		}
		resp, err := fb.client.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"url":          imageURL,
				"published":    false,
				"access_token": accessToken,
			}).
			SetResult(&photo).
			Post(fmt.Sprintf("%s/%s/photos", facebookGraphURL, pageID))
		if err != nil {
			return "", transientErr(fb.Name(), err)
		}
		if resp.IsError() {
			return "", classifyStatus(fb.Name(), resp.StatusCode(), resp.String())
		}
		attachedMedia = append(attachedMedia, map[string]string{"media_fbid": photo.ID})
	}

	var result struct {
		ID string `json:"id"`
	}
	resp, err := fb.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"message":        post.Caption,
			"attached_media": attachedMedia,
			"access_token":   accessToken,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("%s/%s/feed", facebookGraphURL, pageID))
	if err != nil {
		return "", transientErr(fb.Name(), err)
	}
	if resp.IsError() {
		return "", classifyStatus(fb.Name(), resp.StatusCode(), resp.String())
	}
	if result.ID == "" {
		return "", &PublishError{Kind: KindTransient, Platform: fb.Name(), Message: "no post id in feed response"}
	}
	return result.ID, nil
}
