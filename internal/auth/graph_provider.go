package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/hitoshi/oauthgate/internal/model"
)

const (
	DefaultGraphAuthURL    = "https://www.facebook.com/dialog/oauth"
	DefaultGraphTokenURL   = "https://graph.facebook.com/oauth/access_token"
	DefaultGraphProfileURL = "https://graph.facebook.com/me"

	// ProviderName はidentitiesテーブルに記録するプロバイダー名。
	ProviderName = "graph"

	// profileFields はプロフィールエンドポイントに要求するフィールド。
	profileFields = "id,name,email"

	// maxResponseBodySize はプロバイダーのレスポンスボディの読み取り上限。
	maxResponseBodySize = 1 << 20

	// maxErrorBodySize はProviderErrorに保持するボディの上限。
	maxErrorBodySize = 512
)

// GraphProviderConfig はGraph API形式のIdPの設定。
type GraphProviderConfig struct {
	ClientID  string
	AppSecret string
	Scope     string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	ProfileURL string
}

// ProviderError はIdPが200以外のステータスを返したことを表す。
// 詳細は診断ログにのみ記録する。
type ProviderError struct {
	Endpoint   string // "token" または "profile"
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s endpoint returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// GraphProvider はGraph API形式のIdPとの認可コードフローを提供する。
// トークン交換とプロフィール取得は注入されたhttp.Clientで行う。
type GraphProvider struct {
	config GraphProviderConfig
	client *http.Client
}

// NewGraphProvider はGraphProviderを生成する。
// clientがnilの場合はhttp.DefaultClientを使用する。
func NewGraphProvider(config GraphProviderConfig, client *http.Client) *GraphProvider {
	if config.AuthURL == "" {
		config.AuthURL = DefaultGraphAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = DefaultGraphTokenURL
	}
	if config.ProfileURL == "" {
		config.ProfileURL = DefaultGraphProfileURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GraphProvider{config: config, client: client}
}

// AuthorizationURL はユーザーをリダイレクトする認可URLを生成する。
// client_id, redirect_uri, response_type=code, stateを含み、スコープ設定時はscopeも含む。
func (p *GraphProvider) AuthorizationURL(redirectURI, state string) string {
	conf := &oauth2.Config{
		ClientID:    p.config.ClientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.config.AuthURL,
			TokenURL: p.config.TokenURL,
		},
	}
	if p.config.Scope != "" {
		conf.Scopes = strings.Fields(strings.ReplaceAll(p.config.Scope, ",", " "))
	}
	return conf.AuthCodeURL(state)
}

// graphTokenResponse はトークンエンドポイントのJSONレスポンス。
type graphTokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
	Expires     json.Number `json:"expires"`
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// レスポンスはフォーム形式（access_token, expires）とJSON形式（access_token, expires_in）の両方を受け付ける。
func (p *GraphProvider) ExchangeCode(ctx context.Context, redirectURI, code string) (*model.ProviderCredential, error) {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {redirectURI},
		"client_secret": {p.config.AppSecret},
		"code":          {code},
	}

	body, contentType, err := p.get(ctx, "token", p.config.TokenURL, params)
	if err != nil {
		return nil, err
	}

	cred, err := parseTokenResponse(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return cred, nil
}

// parseTokenResponse はトークンエンドポイントのレスポンスボディを解釈する。
func parseTokenResponse(body []byte, contentType string) (*model.ProviderCredential, error) {
	var accessToken, expires string

	trimmed := strings.TrimSpace(string(body))
	if strings.Contains(contentType, "json") || strings.HasPrefix(trimmed, "{") {
		var resp graphTokenResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		accessToken = resp.AccessToken
		expires = resp.ExpiresIn.String()
		if expires == "" {
			expires = resp.Expires.String()
		}
	} else {
		values, err := url.ParseQuery(trimmed)
		if err != nil {
			return nil, err
		}
		accessToken = values.Get("access_token")
		expires = values.Get("expires")
	}

	if accessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	if expires == "" {
		return nil, fmt.Errorf("missing expires in response")
	}
	expiresIn, err := strconv.Atoi(expires)
	if err != nil {
		return nil, fmt.Errorf("invalid expires %q: %w", expires, err)
	}

	return &model.ProviderCredential{AccessToken: accessToken, ExpiresIn: expiresIn}, nil
}

// graphProfile はプロフィールエンドポイントのレスポンス。
type graphProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FetchProfile はアクセストークンでユーザーのプロフィールを取得する。
func (p *GraphProvider) FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error) {
	params := url.Values{
		"access_token": {accessToken},
		"fields":       {profileFields},
	}

	body, _, err := p.get(ctx, "profile", p.config.ProfileURL, params)
	if err != nil {
		return nil, err
	}

	var profile graphProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("empty id in profile response")
	}

	return &model.ProviderProfile{ID: profile.ID, Name: profile.Name, Email: profile.Email}, nil
}

// get はクエリパラメータ付きのGETリクエストを送信し、ボディとContent-Typeを返す。
// 200以外のステータスはProviderErrorとして返す。
func (p *GraphProvider) get(ctx context.Context, endpoint, rawURL string, params url.Values) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid %s endpoint URL: %w", endpoint, err)
	}
	query := u.Query()
	for k, vs := range params {
		query[k] = vs
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json, application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := string(body)
		if len(errBody) > maxErrorBodySize {
			errBody = errBody[:maxErrorBodySize]
		}
		return nil, "", &ProviderError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: errBody}
	}

	return body, resp.Header.Get("Content-Type"), nil
}
