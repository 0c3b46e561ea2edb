package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"sentinel/internal/models"
	"sentinel/internal/registry"
)

// RulesHandler exposes rule CRUD over the registry boundary:
//
//	GET    /rules            list rules
//	POST   /rules            create rule
//	GET    /rules/{id}       fetch rule
//	PUT    /rules/{id}       replace rule
//	DELETE /rules/{id}       delete rule
//	POST   /rules/{id}/enable
//	POST   /rules/{id}/disable
type RulesHandler struct {
	registry *registry.Registry
}

// NewRulesHandler creates a rules admin handler.
func NewRulesHandler(reg *registry.Registry) *RulesHandler {
	return &RulesHandler{registry: reg}
}

// ruleInput is the admin API rule format (durations as strings).
type ruleInput struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Level     string   `json:"level"`
	Sources   []string `json:"sources,omitempty"`
	Threshold uint64   `json:"threshold"`
	Window    string   `json:"window"`
	Cooldown  string   `json:"cooldown,omitempty"`
	Channels  []string `json:"channels"`
	Enabled   *bool    `json:"enabled,omitempty"`
}

func (h *RulesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rules"), "/")

	switch {
	case rest == "":
		switch r.Method {
		case http.MethodGet:
			h.list(w)
		case http.MethodPost:
			h.create(w, r)
		default:
			h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	case strings.HasSuffix(rest, "/enable"):
		h.setEnabled(w, r, strings.TrimSuffix(rest, "/enable"), true)

	case strings.HasSuffix(rest, "/disable"):
		h.setEnabled(w, r, strings.TrimSuffix(rest, "/disable"), false)

	default:
		switch r.Method {
		case http.MethodGet:
			h.get(w, rest)
		case http.MethodPut:
			h.update(w, r, rest)
		case http.MethodDelete:
			h.delete(w, rest)
		default:
			h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (h *RulesHandler) list(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": h.registry.List(),
	})
}

func (h *RulesHandler) get(w http.ResponseWriter, id string) {
	rule, err := h.registry.Get(id)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

func (h *RulesHandler) create(w http.ResponseWriter, r *http.Request) {
	rule, err := h.decodeRule(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.registry.Create(rule); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rule)
}

func (h *RulesHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	rule, err := h.decodeRule(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if rule.ID != id {
		h.writeError(w, http.StatusBadRequest, "rule ID does not match path")
		return
	}
	if err := h.registry.Update(rule); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

func (h *RulesHandler) delete(w http.ResponseWriter, id string) {
	if err := h.registry.Delete(id); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RulesHandler) setEnabled(w http.ResponseWriter, r *http.Request, id string, enabled bool) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.registry.SetEnabled(id, enabled); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"enabled": enabled,
	})
}

func (h *RulesHandler) decodeRule(r *http.Request) (*models.AlertRule, error) {
	var input ruleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	window, err := time.ParseDuration(input.Window)
	if err != nil {
		return nil, errors.New("invalid window duration")
	}

	cooldown := time.Duration(0)
	if input.Cooldown != "" {
		if cooldown, err = time.ParseDuration(input.Cooldown); err != nil {
			return nil, errors.New("invalid cooldown duration")
		}
	}

	channels := make([]models.ChannelRef, 0, len(input.Channels))
	for _, name := range input.Channels {
		channels = append(channels, models.ChannelRef(name))
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	rule := &models.AlertRule{
		ID:             input.ID,
		Name:           input.Name,
		LevelFilter:    models.Level(strings.ToUpper(input.Level)),
		Sources:        input.Sources,
		ThresholdCount: input.Threshold,
		WindowDuration: window,
		Cooldown:       cooldown,
		Channels:       channels,
		Enabled:        enabled,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

func (h *RulesHandler) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrRuleNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrRuleExists):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *RulesHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *RulesHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
