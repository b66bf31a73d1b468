package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	authorizeURL = "https://login.eveonline.com/v2/oauth/authorize"
	tokenURL     = "https://login.eveonline.com/v2/oauth/token"
	verifyURL    = "https://login.eveonline.com/oauth/verify"
)

// Scopes required for moon mining tracking: corporation extraction and
// observer data plus the character notification feed and structure lookups.
const CharacterScopes = "esi-industry.read_corporation_mining.v1 " +
	"esi-characters.read_notifications.v1 " +
	"esi-universe.read_structures.v1"

// SSOConfig holds EVE SSO application credentials.
type SSOConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       string

	http *http.Client
}

// TokenResponse is the SSO token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// VerifyResponse identifies the character behind an access token.
type VerifyResponse struct {
	CharacterID   int64  `json:"CharacterID"`
	CharacterName string `json:"CharacterName"`
}

// BuildAuthURL returns the SSO authorize URL for the given CSRF state.
func (c *SSOConfig) BuildAuthURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.CallbackURL)
	q.Set("client_id", c.ClientID)
	q.Set("scope", c.Scopes)
	q.Set("state", state)
	return authorizeURL + "?" + q.Encode()
}

// GenerateState returns a random URL-safe CSRF state token.
func GenerateState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

// ExchangeCode trades an authorization code for tokens.
func (c *SSOConfig) ExchangeCode(code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return c.tokenRequest(form)
}

// RefreshToken trades a refresh token for a new access token.
func (c *SSOConfig) RefreshToken(refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(form)
}

func (c *SSOConfig) tokenRequest(form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequest("POST", tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.ClientID + ":" + c.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sso token: %d: %s", resp.StatusCode, string(body))
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Verify resolves the character identity behind an access token.
func (c *SSOConfig) Verify(accessToken string) (*VerifyResponse, error) {
	req, err := http.NewRequest("GET", verifyURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sso verify: %d: %s", resp.StatusCode, string(body))
	}

	var v VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *SSOConfig) httpClient() *http.Client {
	if c.http != nil {
		return c.http
	}
	return &http.Client{Timeout: 30 * time.Second}
}
