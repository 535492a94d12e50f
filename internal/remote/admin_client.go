package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
)

// AdminClient talks to the server's admin API with the admin token.
// It is not scoped to a repository and does not implement RemoteClient.
type AdminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAdminClient creates an admin API client. Warns if baseURL uses http://.
func NewAdminClient(baseURL, token string) *AdminClient {
	if strings.HasPrefix(baseURL, "http://") {
		fmt.Fprintf(os.Stderr, "warning: sending credentials over unencrypted HTTP connection\n")
	}
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// AdminTokenRequest is the body of POST /admin/tokens.
type AdminTokenRequest struct {
	Description string   `json:"description"`
	UserID      string   `json:"user_id"`
	Repos       []string `json:"repos"`
	Permission  string   `json:"permission"`
}

// AdminToken is token metadata. Token holds the raw value only in a create response.
type AdminToken struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	UserID      string   `json:"user_id"`
	Repos       []string `json:"repos"`
	Permission  string   `json:"permission"`
	Token       string   `json:"token,omitempty"`
}

func (c *AdminClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// CreateToken issues a token. The raw value is only ever returned here.
func (c *AdminClient) CreateToken(ctx context.Context, req *AdminTokenRequest) (*AdminToken, error) {
	var resp AdminToken
	if err := doJSON(ctx, c.do, "POST", c.baseURL+"/admin/tokens", req, &resp); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &resp, nil
}

// ListTokens returns metadata for every token.
func (c *AdminClient) ListTokens(ctx context.Context) ([]AdminToken, error) {
	var tokens []AdminToken
	if err := doJSON(ctx, c.do, "GET", c.baseURL+"/admin/tokens", nil, &tokens); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// DeleteToken revokes a token by ID.
func (c *AdminClient) DeleteToken(ctx context.Context, id string) error {
	if err := doJSON(ctx, c.do, "DELETE", c.baseURL+"/admin/tokens/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// CreateRepo creates a repository with its genesis changelist and main branch.
func (c *AdminClient) CreateRepo(ctx context.Context, name string, public bool) (*models.Repo, error) {
	var repo models.Repo
	if err := doJSON(ctx, c.do, "POST", c.baseURL+"/admin/repos", &CreateRepoRequest{Name: name, Public: public}, &repo); err != nil {
		return nil, fmt.Errorf("create repo: %w", err)
	}
	return &repo, nil
}

// DeleteRepo soft-deletes a repository.
func (c *AdminClient) DeleteRepo(ctx context.Context, name string) error {
	if err := doJSON(ctx, c.do, "DELETE", c.baseURL+"/admin/repos/"+url.PathEscape(name), nil, nil); err != nil {
		return fmt.Errorf("delete repo: %w", err)
	}
	return nil
}

// ListRepos returns every live repository.
func (c *AdminClient) ListRepos(ctx context.Context) ([]*models.Repo, error) {
	var resp ReposResponse
	if err := doJSON(ctx, c.do, "GET", c.baseURL+"/admin/repos", nil, &resp); err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	return resp.Repos, nil
}
