package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/ledgerbook/internal/api/middleware"
	"github.com/dvloznov/ledgerbook/internal/store"
)

// ProfilesHandler lists the caller's business profiles.
type ProfilesHandler struct {
	profiles store.ProfileRepository
}

func NewProfilesHandler(profiles store.ProfileRepository) *ProfilesHandler {
	return &ProfilesHandler{profiles: profiles}
}

type profileView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Active    bool      `json:"active"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"createdAt"`
}

// List handles GET /api/profiles.
func (h *ProfilesHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	profiles, err := h.profiles.ListProfiles(ctx, p.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	current := ""
	if u, err := h.profiles.GetUser(ctx, p.UserID); err == nil && u.CurrentProfileID != nil {
		current = *u.CurrentProfileID
	}

	views := make([]profileView, 0, len(profiles))
	for _, bp := range profiles {
		views = append(views, profileView{
			ID:        bp.ID,
			Name:      bp.Name,
			Type:      string(bp.Type),
			Active:    bp.Active,
			Current:   bp.ID == current,
			CreatedAt: bp.CreatedAt,
		})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": views,
		"count":    len(views),
	})
}
