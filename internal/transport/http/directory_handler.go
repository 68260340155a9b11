package http

import (
	"context"
	"net/http"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/directory"
)

// snapshot returns the session's directory snapshot, loading it on first use.
func (h *Handler) snapshot(ctx context.Context) (*directory.Snapshot, error) {
	return h.directoryService.Get(ctx, GetSessionID(ctx), backendAPI(ctx))
}

// entityLookup checks role scoping against the session's snapshot.
func (h *Handler) entityLookup() authz.EntityLookup {
	return func(ctx context.Context, entityType authz.EntityType, id string) (bool, error) {
		snap, err := h.snapshot(ctx)
		if err != nil {
			return false, err
		}
		return snap.Has(entityType, id), nil
	}
}

// ListModules returns the module registry
// @Summary List Modules
// @Description The permission matrix column axis
// @Tags Directory
// @Produce json
// @Security CookieAuth
// @Success 200 {array} authz.Module
// @Failure 502 {object} ErrorResponse
// @Router /modules [get]
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot(r.Context())
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap.Modules())
}

// ListEntities returns the entity directory
// @Summary List Entities
// @Description Entity references for pickers, optionally of one entity type
// @Tags Directory
// @Produce json
// @Security CookieAuth
// @Param entity_type query string false "organization, sponsor, site or provider"
// @Success 200 {object} map[string][]authz.ExtractedRole
// @Failure 400 {object} ErrorResponse
// @Router /entities [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	var filter authz.EntityType
	if raw := r.URL.Query().Get("entity_type"); raw != "" {
		t, err := authz.ParseEntityType(raw)
		if err != nil {
			h.respondFailure(w, r, apperr.Validation("entity_type", "%v", err))
			return
		}
		filter = t
	}

	snap, err := h.snapshot(r.Context())
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	if filter != "" {
		respondJSON(w, http.StatusOK, map[authz.EntityType][]authz.ExtractedRole{filter: snap.Entities(filter)})
		return
	}
	out := make(map[authz.EntityType][]authz.ExtractedRole, len(authz.EntityTypes))
	for _, t := range authz.EntityTypes {
		out[t] = snap.Entities(t)
	}
	respondJSON(w, http.StatusOK, out)
}
