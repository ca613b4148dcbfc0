package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/profileswitch/internal/host"
	"github.com/ent0n29/profileswitch/internal/switching"
)

type ownerProfilesResponse struct {
	OwnerID  string   `json:"owner_id"`
	Active   string   `json:"active"`
	Profiles []string `json:"profiles"`
}

type createProfileRequest struct {
	Name string `json:"name"`
}

type switchRequest struct {
	Profile string `json:"profile"`
	Force   bool   `json:"force"`
	Wait    bool   `json:"wait"`
}

type switchAccepted struct {
	RequestID string          `json:"request_id"`
	OwnerID   string          `json:"owner_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	State     switching.State `json:"state"`
	Remaining int             `json:"remaining_ticks"`
	Forced    bool            `json:"forced,omitempty"`
}

type statusResponse struct {
	OwnerID         string          `json:"owner_id"`
	Active          string          `json:"active,omitempty"`
	Switching       bool            `json:"switching"`
	InCombat        bool            `json:"in_combat"`
	CombatRemaining int             `json:"combat_remaining_seconds"`
	Switch          *switchAccepted `json:"switch,omitempty"`
}

func ownerParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "owner"))
}

func (s *Server) profilesOf(ownerID string) (ownerProfilesResponse, error) {
	names, err := s.svc.ListProfiles(ownerID)
	if err != nil {
		return ownerProfilesResponse{}, err
	}
	active, err := s.svc.GetActiveProfile(ownerID)
	if err != nil {
		return ownerProfilesResponse{}, err
	}
	return ownerProfilesResponse{OwnerID: ownerID, Active: active, Profiles: names}, nil
}

func (s *Server) handleLoadOwner(w http.ResponseWriter, r *http.Request) {
	owner := ownerParam(r)
	res := awaitResult(r.Context(), s.svc.LoadOwner(r.Context(), owner))
	if !res.OK {
		respondResult(w, http.StatusOK, res, nil)
		return
	}
	body, err := s.profilesOf(owner)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleUnloadOwner(w http.ResponseWriter, r *http.Request) {
	owner := ownerParam(r)
	res := awaitResult(r.Context(), s.svc.UnloadOwner(r.Context(), owner))
	respondResult(w, http.StatusOK, res, map[string]any{"owner_id": owner, "unloaded": true})
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	body, err := s.profilesOf(ownerParam(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	owner := ownerParam(r)
	res := awaitResult(r.Context(), s.svc.CreateProfile(r.Context(), owner, req.Name))
	respondResult(w, http.StatusCreated, res, map[string]any{"owner_id": owner, "name": req.Name})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	owner := ownerParam(r)
	name := chi.URLParam(r, "name")
	res := awaitResult(r.Context(), s.svc.DeleteProfile(r.Context(), owner, name))
	respondResult(w, http.StatusOK, res, map[string]any{"owner_id": owner, "name": name, "deleted": true})
}

func (s *Server) handleActiveProfile(w http.ResponseWriter, r *http.Request) {
	owner := ownerParam(r)
	active, err := s.svc.GetActiveProfile(owner)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"owner_id": owner, "active": active})
}

func acceptedFrom(req *switching.Request) *switchAccepted {
	return &switchAccepted{
		RequestID: req.ID,
		OwnerID:   req.OwnerID,
		From:      req.From,
		To:        req.To,
		State:     req.State(),
		Remaining: req.Remaining(),
		Forced:    req.Forced,
	}
}

// handleSwitch answers 202 with the live request, or the final outcome
// when the caller asks to wait.
func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var body switchRequest
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(body.Profile) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "profile is required")
		return
	}

	owner := ownerParam(r)
	var (
		req *switching.Request
		err error
	)
	if body.Force {
		req, err = s.svc.StartForce(r.Context(), owner, body.Profile)
	} else {
		req, err = s.svc.StartSwitch(r.Context(), owner, body.Profile)
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	if !body.Wait {
		respondJSON(w, http.StatusAccepted, acceptedFrom(req))
		return
	}
	out, err := req.Wait(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	owner := ownerParam(r)
	resp := statusResponse{
		OwnerID:         owner,
		Switching:       s.svc.IsSwitching(owner),
		InCombat:        s.svc.IsInCombat(owner),
		CombatRemaining: s.svc.RemainingCombatSeconds(owner),
	}
	if active, err := s.svc.GetActiveProfile(owner); err == nil {
		resp.Active = active
	}
	if req, ok := s.svc.CurrentSwitch(owner); ok {
		resp.Switch = acceptedFrom(req)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	owner := ownerParam(r)
	res := awaitResult(r.Context(), s.svc.SaveCurrentState(r.Context(), owner))
	respondResult(w, http.StatusOK, res, map[string]any{"owner_id": owner, "saved": true})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.host.State(ownerParam(r)))
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var state host.LiveState
	if err := decodeJSON(r, &state); err != nil {
		if errors.Is(err, errEmptyBody) {
			state = host.FreshState()
		} else {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	owner := ownerParam(r)
	s.host.SetState(owner, state)
	respondJSON(w, http.StatusOK, s.host.State(owner))
}
