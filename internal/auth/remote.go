package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const userEndpoint = "/auth/v1/user"

// RemoteVerifier asks the identity provider who the token belongs to.
type RemoteVerifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type remoteUser struct {
	Id string `json:"id"`
}

func NewRemoteVerifier(baseURL, apiKey string, timeout time.Duration) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", unauthenticated("token is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+userEndpoint, nil)
	if err != nil {
		return "", unauthenticated("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", unauthenticated("call identity provider: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", unauthenticated("identity provider status %d", resp.StatusCode)
	}

	var user remoteUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", unauthenticated("decode identity response: %v", err)
	}

	userId := strings.TrimSpace(user.Id)
	if userId == "" {
		return "", unauthenticated("identity provider returned empty user id")
	}

	return userId, nil
}
