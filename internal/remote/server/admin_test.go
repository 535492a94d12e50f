package server

import (
	"net/http"
	"testing"

	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminTokens(t *testing.T) {
	s := newTestServer(t)

	resp := s.do("POST", "/admin/tokens", testAdminToken, &CreateTokenRequest{
		Description: "ci", UserID: "builder", Permission: "rw",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[TokenEntry](t, resp)
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, []string{"*"}, created.Repos)

	// The new token works against the repo API.
	resp = s.do("GET", "/api/v1/repos/game/info", created.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do("GET", "/admin/tokens", testAdminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]TokenEntry](t, resp)
	assert.Len(t, entries, 5)
	for _, e := range entries {
		assert.Empty(t, e.Token)
	}

	resp = s.do("DELETE", "/admin/tokens/"+created.ID, testAdminToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do("DELETE", "/admin/tokens/"+created.ID, testAdminToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do("GET", "/api/v1/repos/game/info", created.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminTokens_InvalidPermission(t *testing.T) {
	s := newTestServer(t)
	resp := s.do("POST", "/admin/tokens", testAdminToken, &CreateTokenRequest{Permission: "root"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRepos(t *testing.T) {
	s := newTestServer(t)

	resp := s.do("POST", "/admin/repos", testAdminToken, &remote.CreateRepoRequest{Name: "audio"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "audio", decode[models.Repo](t, resp).Name)

	resp = s.do("POST", "/admin/repos", testAdminToken, &remote.CreateRepoRequest{Name: "audio"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do("GET", "/admin/repos", testAdminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[remote.ReposResponse](t, resp).Repos, 2)

	resp = s.do("DELETE", "/admin/repos/audio", testAdminToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do("GET", "/api/v1/repos/audio/info", s.alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do("GET", "/admin/repos", testAdminToken, nil)
	assert.Len(t, decode[remote.ReposResponse](t, resp).Repos, 1)
}
