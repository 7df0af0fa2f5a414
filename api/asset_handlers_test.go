package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aegis/core"
	"aegis/storage"
)

func TestHandleCreateAsset(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.assets.On("CreateAsset", mock.Anything, mock.MatchedBy(func(asset *core.Asset) bool {
		return asset.OrganizationID == "org-1" && asset.Name == "db-primary" && asset.Criticality == "critical"
	})).Return(nil)

	body := []byte(`{"name":"db-primary","assetType":"database","ipAddress":"10.0.4.12","criticality":"critical"}`)
	rec := doRequest(a, "POST", "/api/assets", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got core.Asset
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "database", got.AssetType)
}

func TestHandleCreateAsset_RejectsBadIP(t *testing.T) {
	a, _ := newTestAPI(testConfig())
	rec := doRequest(a, "POST", "/api/assets", []byte(`{"name":"web-1","assetType":"server","ipAddress":"not-an-ip"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateAsset_RejectsMissingName(t *testing.T) {
	a, _ := newTestAPI(testConfig())
	rec := doRequest(a, "POST", "/api/assets", []byte(`{"assetType":"server"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateAsset_RejectsUnknownCriticality(t *testing.T) {
	a, _ := newTestAPI(testConfig())
	rec := doRequest(a, "POST", "/api/assets", []byte(`{"name":"web-1","assetType":"server","criticality":"urgent"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetAsset_NotFound(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.assets.On("GetAsset", mock.Anything, "asset-missing", "org-1").Return(nil, storage.ErrAssetNotFound)

	rec := doRequest(a, "GET", "/api/assets/asset-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListAssets(t *testing.T) {
	a, m := newTestAPI(testConfig())
	m.assets.On("ListAssets", mock.Anything, "org-1", 50, 0).Return([]core.Asset{
		{ID: "asset-1", Name: "web-1"},
		{ID: "asset-2", Name: "db-primary"},
	}, nil)

	rec := doRequest(a, "GET", "/api/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []core.Asset
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Len(t, got, 2)
}
