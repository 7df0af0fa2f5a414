package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"aegis/core"
	"aegis/storage"
)

type createAssetRequest struct {
	Name        string                 `json:"name" validate:"required,max=255"`
	AssetType   string                 `json:"assetType" validate:"required,max=64"`
	IPAddress   string                 `json:"ipAddress" validate:"omitempty,ip"`
	Hostname    string                 `json:"hostname" validate:"omitempty,hostname_rfc1123"`
	Criticality string                 `json:"criticality" validate:"omitempty,oneof=low medium high critical"`
	Owner       string                 `json:"owner" validate:"max=255"`
	Environment string                 `json:"environment" validate:"max=64"`
	Tags        []string               `json:"tags" validate:"max=32,dive,max=64"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// handleCreateAsset registers an asset for enrichment context.
func (a *API) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}
	if a.deps.Assets == nil {
		a.writeError(w, r, "asset storage is not configured", http.StatusServiceUnavailable)
		return
	}

	var req createAssetRequest
	if err := decodeJSONBodyWithLimit(w, r, &req, a.config.Security.JSONBodyLimit); err != nil {
		a.writeError(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	if err := requestValidator.Struct(&req); err != nil {
		a.writeError(w, r, validationMessage(err), http.StatusBadRequest)
		return
	}

	asset := core.NewAsset(org, req.Name, req.AssetType)
	asset.IPAddress = req.IPAddress
	asset.Hostname = req.Hostname
	asset.Owner = req.Owner
	asset.Environment = req.Environment
	asset.Tags = req.Tags
	asset.Metadata = req.Metadata
	if req.Criticality != "" {
		asset.Criticality = req.Criticality
	}

	if err := asset.Validate(); err != nil {
		a.writeError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.deps.Assets.CreateAsset(r.Context(), asset); err != nil {
		a.writeError(w, r, "failed to create asset", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusCreated, asset)
}

// handleListAssets lists assets for the caller's organization.
func (a *API) handleListAssets(w http.ResponseWriter, r *http.Request) {
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}
	if a.deps.Assets == nil {
		a.writeError(w, r, "asset storage is not configured", http.StatusServiceUnavailable)
		return
	}
	limit, offset := parseLimitOffset(r, 50, 200)

	assets, err := a.deps.Assets.ListAssets(r.Context(), org, limit, offset)
	if err != nil {
		a.writeError(w, r, "failed to list assets", http.StatusInternalServerError)
		return
	}
	if assets == nil {
		assets = []core.Asset{}
	}
	a.writeJSON(w, http.StatusOK, assets)
}

// handleGetAsset fetches one asset, org-scoped.
func (a *API) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := validateResourceID(id); err != nil {
		a.writeError(w, r, "invalid asset ID", http.StatusBadRequest)
		return
	}
	org, _, ok := a.requestIdentity(w, r)
	if !ok {
		return
	}
	if a.deps.Assets == nil {
		a.writeError(w, r, "asset storage is not configured", http.StatusServiceUnavailable)
		return
	}

	asset, err := a.deps.Assets.GetAsset(r.Context(), id, org)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			a.writeError(w, r, "asset not found", http.StatusNotFound)
			return
		}
		a.writeError(w, r, "failed to load asset", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, asset)
}
