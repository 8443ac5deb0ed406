package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"zen.app/cloud/licensing"
	"zen.app/cloud/models"
)

type LicenseRequest struct {
	LicenseKey string `json:"license_key"`
	AppVersion string `json:"app_version,omitempty"`
}

type RecoverRequest struct {
	Email string `json:"email"`
}

type RecoverResponse struct {
	Licenses []licensing.LicenseView `json:"licenses"`
}

type TierInfo struct {
	Tier             models.Tier `json:"tier"`
	DisplayName      string      `json:"display_name"`
	VersionsIncluded int         `json:"versions_included"`
	Price            string      `json:"price,omitempty"`
	MinPrice         string      `json:"min_price,omitempty"`
	PayWhatYouWant   bool        `json:"pay_what_you_want"`
	CapacityLimited  bool        `json:"capacity_limited"`
}

type TiersResponse struct {
	Currency string     `json:"currency"`
	Tiers    []TierInfo `json:"tiers"`
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func (s *Server) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	var req LicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.Licenses.Validate(r.Context(), req.LicenseKey, req.AppVersion)
	if errors.Is(err, licensing.ErrInvalidAppVersion) {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid app_version")
		return
	}
	if err != nil {
		reportError(r, "License validation failed", err, nil)
		writeErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) LicenseFromSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Missing session_id")
		return
	}

	view, err := s.Licenses.LicenseForSession(r.Context(), sessionID)
	switch {
	case errors.Is(err, licensing.ErrInvalidPurchase):
		writeErrorResponse(w, http.StatusBadRequest, "Missing session_id")
	case errors.Is(err, licensing.ErrLicensePending):
		writeErrorResponse(w, http.StatusNotFound, "License not found. Please try refreshing the page.")
	case err != nil:
		reportError(r, "Session lookup failed", err, map[string]interface{}{
			"session_id": sessionID,
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Database error")
	default:
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) RecoverLicenses(w http.ResponseWriter, r *http.Request) {
	var req RecoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Email required")
		return
	}

	views, err := s.Licenses.RecoverByEmail(r.Context(), req.Email)
	if errors.Is(err, licensing.ErrInvalidEmail) {
		writeErrorResponse(w, http.StatusBadRequest, "Email required")
		return
	}
	if err != nil {
		reportError(r, "License recovery failed", err, nil)
		writeErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, RecoverResponse{Licenses: views})
}

func (s *Server) EarlyAdopterSlots(w http.ResponseWriter, r *http.Request) {
	avail, err := s.Licenses.SlotAvailability(r.Context())
	if err != nil {
		reportError(r, "Slot availability lookup failed", err, nil)
		writeErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// Tiers serves the pricing table. The free tier is not sold and is left out.
func (s *Server) Tiers(w http.ResponseWriter, r *http.Request) {
	table := s.Licenses.Tiers()

	resp := TiersResponse{Currency: "usd", Tiers: make([]TierInfo, 0, len(table))}
	for _, t := range models.Tiers() {
		cfg, ok := table[t]
		if !ok || (cfg.FixedPrice && cfg.PriceCents == 0) {
			continue
		}

		info := TierInfo{
			Tier:             t,
			DisplayName:      cfg.DisplayName,
			VersionsIncluded: cfg.VersionsIncluded,
			PayWhatYouWant:   !cfg.FixedPrice,
			CapacityLimited:  cfg.CapacityLimited,
		}
		if cfg.FixedPrice {
			info.Price = formatCents(cfg.PriceCents)
		} else {
			info.MinPrice = formatCents(cfg.MinPriceCents)
		}
		resp.Tiers = append(resp.Tiers, info)
	}

	writeJSON(w, http.StatusOK, resp)
}
