package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agentlink/agentlink/internal/auth"
	"github.com/agentlink/agentlink/internal/crypto"
	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/mirror"
)

// agentsHandler groups the agent profile endpoints.
type agentsHandler struct {
	profiles *mirror.ProfileStore
	reviews  *mirror.ReviewStore
	cipher   *crypto.Cipher
}

func newAgentsHandler(profiles *mirror.ProfileStore, reviews *mirror.ReviewStore, cipher *crypto.Cipher) *agentsHandler {
	return &agentsHandler{profiles: profiles, reviews: reviews, cipher: cipher}
}

// ListAgents handles GET /api/v1/agents (public).
func (h *agentsHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	params := mirror.ProfileListParams{
		Cursor:       r.URL.Query().Get("cursor"),
		Capability:   r.URL.Query().Get("capability"),
		VerifiedOnly: r.URL.Query().Get("verified") == "true",
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		params.Limit = l
	}

	profiles, nextCursor, err := h.profiles.List(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list agents")
		return
	}

	resp := map[string]interface{}{
		"agents": profiles,
	}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAgent handles GET /api/v1/agents/{address} (public). The profile
// is returned together with its review average.
func (h *agentsHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 64 hex characters")
		return
	}

	profile, err := h.profiles.GetByAddress(r.Context(), addr)
	if err != nil {
		writeMirrorError(w, err, "failed to get agent")
		return
	}

	avg, err := h.reviews.AverageRatingCentis(r.Context(), addr)
	if err != nil {
		slog.Error("loading review average", "agent", addr, "error", err)
		avg = 0
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":             profile,
		"avg_rating_centis": avg,
	})
}

// GetAgentReviews handles GET /api/v1/agents/{address}/reviews (public).
func (h *agentsHandler) GetAgentReviews(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 64 hex characters")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = l
	}

	reviews, err := h.reviews.ListByAgent(r.Context(), addr, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list reviews")
		return
	}
	if reviews == nil {
		reviews = []*mirror.Review{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reviews": reviews})
}

// GetSelf handles GET /api/v1/agents/me (agent-authed).
func (h *agentsHandler) GetSelf(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "agent authentication required")
		return
	}

	profile, err := h.profiles.GetByAddress(r.Context(), agent.Address)
	if err != nil {
		writeMirrorError(w, err, "failed to get profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// updateSelfInput is the request body for profile updates. The webhook
// secret is write-only and stored encrypted.
type updateSelfInput struct {
	Description   *string   `json:"description"`
	Capabilities  *[]string `json:"capabilities"`
	WebhookURL    *string   `json:"webhook_url"`
	WebhookSecret *string   `json:"webhook_secret"`
}

// UpdateSelf handles PUT /api/v1/agents/me (agent-authed).
func (h *agentsHandler) UpdateSelf(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "agent authentication required")
		return
	}

	var input updateSelfInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	profile, err := h.profiles.Update(r.Context(), agent.Address, mirror.UpdateProfileInput{
		Description:  input.Description,
		Capabilities: input.Capabilities,
		WebhookURL:   input.WebhookURL,
	})
	if err != nil {
		writeMirrorError(w, err, "failed to update profile")
		return
	}

	if input.WebhookSecret != nil {
		url := profile.WebhookURL
		if input.WebhookURL != nil {
			url = *input.WebhookURL
		}
		secretEnc, err := h.cipher.EncryptSecret([]byte(*input.WebhookSecret))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to store webhook secret")
			return
		}
		if err := h.profiles.SetWebhook(r.Context(), agent.Address, url, secretEnc); err != nil {
			writeMirrorError(w, err, "failed to store webhook secret")
			return
		}
	}

	auditLog(r, "update", "profile", agent.Address.String())
	writeJSON(w, http.StatusOK, profile)
}

// RotateKey handles POST /api/v1/admin/agents/{address}/rotate-key
// (admin). The new plaintext key is returned exactly once.
func (h *agentsHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "address must be 64 hex characters")
		return
	}

	key, plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to generate api key")
		return
	}

	if err := h.profiles.SetAPIKey(r.Context(), addr, key.Hash, key.Prefix); err != nil {
		writeMirrorError(w, err, "failed to rotate api key")
		return
	}

	auditLog(r, "rotate_key", "agent", addr.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"api_key":        plaintext,
		"api_key_prefix": key.Prefix,
	})
}
