package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
)

// RemoteClient defines the contract for talking to a depot server about one repository.
type RemoteClient interface {
	GetRepoInfo(ctx context.Context) (*RepoInfo, error)

	ListBranches(ctx context.Context, pattern, branchType string, includeArchived bool) ([]*models.Branch, error)
	GetBranch(ctx context.Context, branch string) (*models.Branch, error)
	CreateBranch(ctx context.Context, req *CreateBranchRequest) (*models.Branch, error)
	ArchiveBranch(ctx context.Context, branch string) (*models.Branch, error)
	UnarchiveBranch(ctx context.Context, branch string) (*models.Branch, error)
	DeleteBranch(ctx context.Context, branch string) (*models.Branch, error)
	MergeBranch(ctx context.Context, branch, target string) (*models.MergeResult, error)

	History(ctx context.Context, opts HistoryOptions) ([]*models.Changelist, error)
	GetChangelists(ctx context.Context, numbers []int64) ([]*models.Changelist, error)
	GetChangelist(ctx context.Context, number int64) (*models.Changelist, error)
	ChangelistFiles(ctx context.Context, number int64) ([]*models.FileChange, error)
	ChangedPaths(ctx context.Context, from, to int64) ([]string, error)
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)

	CreateWorkspace(ctx context.Context, name string) (*models.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	Checkout(ctx context.Context, req *CheckoutRequest) (*models.FileCheckout, error)
	UndoCheckout(ctx context.Context, workspaceID, path string) (*models.FileCheckout, error)
	ActiveCheckouts(ctx context.Context, paths []string) ([]*models.FileCheckout, error)
	LockConflicts(ctx context.Context, paths []string) ([]models.LockConflict, error)
}

// HTTPClient implements RemoteClient over HTTP.
type HTTPClient struct {
	baseURL    string
	repoName   string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP-based remote client.
func NewHTTPClient(baseURL, repoName, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		repoName:   repoName,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) repoURL(path string) string {
	return fmt.Sprintf("%s/api/v1/repos/%s%s", c.baseURL, url.PathEscape(c.repoName), path)
}

// branchURL escapes the branch name so names containing '/' stay one path segment.
func (c *HTTPClient) branchURL(branch, suffix string) string {
	return c.repoURL("/branches/" + url.PathEscape(branch) + suffix)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
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

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody any) error {
	return doJSON(ctx, c.do, method, url, reqBody, respBody)
}

type doFunc func(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error)

func doJSON(ctx context.Context, do doFunc, method, url string, reqBody, respBody any) error {
	var body io.Reader
	headers := map[string]string{"Content-Type": "application/json"}

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := do(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// GetRepoInfo returns summary info about the remote repository.
func (c *HTTPClient) GetRepoInfo(ctx context.Context) (*RepoInfo, error) {
	var info RepoInfo
	if err := c.doJSON(ctx, "GET", c.repoURL("/info"), nil, &info); err != nil {
		return nil, fmt.Errorf("get repo info: %w", err)
	}
	return &info, nil
}

// ListBranches returns branches matching the optional glob pattern and type.
func (c *HTTPClient) ListBranches(ctx context.Context, pattern, branchType string, includeArchived bool) ([]*models.Branch, error) {
	q := url.Values{}
	if pattern != "" {
		q.Set("pattern", pattern)
	}
	if branchType != "" {
		q.Set("type", branchType)
	}
	if includeArchived {
		q.Set("archived", "true")
	}
	u := c.repoURL("/branches")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var branches []*models.Branch
	if err := c.doJSON(ctx, "GET", u, nil, &branches); err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}

// GetBranch returns a single branch.
func (c *HTTPClient) GetBranch(ctx context.Context, branch string) (*models.Branch, error) {
	var b models.Branch
	if err := c.doJSON(ctx, "GET", c.branchURL(branch, ""), nil, &b); err != nil {
		return nil, fmt.Errorf("get branch %s: %w", branch, err)
	}
	return &b, nil
}

// CreateBranch creates a branch.
func (c *HTTPClient) CreateBranch(ctx context.Context, req *CreateBranchRequest) (*models.Branch, error) {
	var b models.Branch
	if err := c.doJSON(ctx, "POST", c.repoURL("/branches"), req, &b); err != nil {
		return nil, fmt.Errorf("create branch %s: %w", req.Name, err)
	}
	return &b, nil
}

// ArchiveBranch makes a branch read-only.
func (c *HTTPClient) ArchiveBranch(ctx context.Context, branch string) (*models.Branch, error) {
	var b models.Branch
	if err := c.doJSON(ctx, "POST", c.branchURL(branch, "/archive"), nil, &b); err != nil {
		return nil, fmt.Errorf("archive branch %s: %w", branch, err)
	}
	return &b, nil
}

// UnarchiveBranch makes an archived branch writable again.
func (c *HTTPClient) UnarchiveBranch(ctx context.Context, branch string) (*models.Branch, error) {
	var b models.Branch
	if err := c.doJSON(ctx, "POST", c.branchURL(branch, "/unarchive"), nil, &b); err != nil {
		return nil, fmt.Errorf("unarchive branch %s: %w", branch, err)
	}
	return &b, nil
}

// DeleteBranch removes a feature branch and returns it as it was before deletion.
func (c *HTTPClient) DeleteBranch(ctx context.Context, branch string) (*models.Branch, error) {
	var b models.Branch
	if err := c.doJSON(ctx, "DELETE", c.branchURL(branch, ""), nil, &b); err != nil {
		return nil, fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return &b, nil
}

// MergeBranch squashes branch into target. An empty target merges into the branch's parent.
func (c *HTTPClient) MergeBranch(ctx context.Context, branch, target string) (*models.MergeResult, error) {
	var res models.MergeResult
	if err := c.doJSON(ctx, "POST", c.branchURL(branch, "/merge"), &MergeRequest{Target: target}, &res); err != nil {
		return nil, fmt.Errorf("merge branch %s: %w", branch, err)
	}
	return &res, nil
}

// History returns a page of changelists along a branch, newest first.
func (c *HTTPClient) History(ctx context.Context, opts HistoryOptions) ([]*models.Changelist, error) {
	q := url.Values{}
	if opts.Branch != "" {
		q.Set("branch", opts.Branch)
	}
	if opts.Start != nil {
		q.Set("start", strconv.FormatInt(*opts.Start, 10))
	}
	if opts.Since != nil {
		q.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.Count > 0 {
		q.Set("count", strconv.Itoa(opts.Count))
	}
	u := c.repoURL("/changelists")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var cls []*models.Changelist
	if err := c.doJSON(ctx, "GET", u, nil, &cls); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return cls, nil
}

// GetChangelists fetches several changelists by number. Unknown numbers are omitted.
func (c *HTTPClient) GetChangelists(ctx context.Context, numbers []int64) ([]*models.Changelist, error) {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.FormatInt(n, 10)
	}
	u := c.repoURL("/changelists?numbers=" + strings.Join(parts, ","))

	var cls []*models.Changelist
	if err := c.doJSON(ctx, "GET", u, nil, &cls); err != nil {
		return nil, fmt.Errorf("get changelists: %w", err)
	}
	return cls, nil
}

// GetChangelist returns one changelist.
func (c *HTTPClient) GetChangelist(ctx context.Context, number int64) (*models.Changelist, error) {
	var cl models.Changelist
	if err := c.doJSON(ctx, "GET", c.repoURL("/changelists/"+strconv.FormatInt(number, 10)), nil, &cl); err != nil {
		return nil, fmt.Errorf("get changelist %d: %w", number, err)
	}
	return &cl, nil
}

// ChangelistFiles returns the file changes recorded by a changelist.
func (c *HTTPClient) ChangelistFiles(ctx context.Context, number int64) ([]*models.FileChange, error) {
	var changes []*models.FileChange
	if err := c.doJSON(ctx, "GET", c.repoURL("/changelists/"+strconv.FormatInt(number, 10)+"/files"), nil, &changes); err != nil {
		return nil, fmt.Errorf("changelist %d files: %w", number, err)
	}
	return changes, nil
}

// ChangedPaths returns the paths touched after from, up to and including to.
func (c *HTTPClient) ChangedPaths(ctx context.Context, from, to int64) ([]string, error) {
	u := c.repoURL(fmt.Sprintf("/paths-changed?from=%d&to=%d", from, to))
	var resp ChangedPathsResponse
	if err := c.doJSON(ctx, "GET", u, nil, &resp); err != nil {
		return nil, fmt.Errorf("changed paths: %w", err)
	}
	return resp.Paths, nil
}

// Submit creates a changelist from a workspace's modifications.
func (c *HTTPClient) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.doJSON(ctx, "POST", c.repoURL("/changelists"), req, &resp); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	return &resp, nil
}

// CreateWorkspace creates a workspace owned by the token's user.
func (c *HTTPClient) CreateWorkspace(ctx context.Context, name string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := c.doJSON(ctx, "POST", c.repoURL("/workspaces"), &WorkspaceRequest{Name: name}, &ws); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", name, err)
	}
	return &ws, nil
}

// GetWorkspace returns a workspace by ID.
func (c *HTTPClient) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := c.doJSON(ctx, "GET", c.repoURL("/workspaces/"+url.PathEscape(id)), nil, &ws); err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", id, err)
	}
	return &ws, nil
}

// Checkout opens a file for edit, optionally with an exclusive lock.
func (c *HTTPClient) Checkout(ctx context.Context, req *CheckoutRequest) (*models.FileCheckout, error) {
	var co models.FileCheckout
	if err := c.doJSON(ctx, "POST", c.repoURL("/checkouts"), req, &co); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", req.Path, err)
	}
	return &co, nil
}

// UndoCheckout closes the workspace's checkout of path.
func (c *HTTPClient) UndoCheckout(ctx context.Context, workspaceID, path string) (*models.FileCheckout, error) {
	var co models.FileCheckout
	req := &CheckoutRequest{WorkspaceID: workspaceID, Path: path}
	if err := c.doJSON(ctx, "POST", c.repoURL("/checkouts/undo"), req, &co); err != nil {
		return nil, fmt.Errorf("revert %s: %w", path, err)
	}
	return &co, nil
}

// ActiveCheckouts lists open checkouts on the given paths.
func (c *HTTPClient) ActiveCheckouts(ctx context.Context, paths []string) ([]*models.FileCheckout, error) {
	var cos []*models.FileCheckout
	if err := c.doJSON(ctx, "POST", c.repoURL("/checkouts/active"), &PathsRequest{Paths: paths}, &cos); err != nil {
		return nil, fmt.Errorf("active checkouts: %w", err)
	}
	return cos, nil
}

// LockConflicts lists locks held by other users on the given paths.
func (c *HTTPClient) LockConflicts(ctx context.Context, paths []string) ([]models.LockConflict, error) {
	var conflicts []models.LockConflict
	if err := c.doJSON(ctx, "POST", c.repoURL("/checkouts/conflicts"), &PathsRequest{Paths: paths}, &conflicts); err != nil {
		return nil, fmt.Errorf("lock conflicts: %w", err)
	}
	return conflicts, nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Status  int
	Details map[string]string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
		Details: errResp.Details,
	}
}

var (
	_ RemoteClient = (*HTTPClient)(nil)
	_ RemoteClient = (*RetryClient)(nil)
)
