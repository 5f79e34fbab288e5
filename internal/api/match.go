package api

import (
	"net/http"
	"time"

	"github.com/david/grant-discovery/internal/models"
	"github.com/labstack/echo/v4"
)

type matchRequest struct {
	Profile models.OrganizationProfile `json:"profile"`
	// Grants overrides the records of the last discovery run.
	Grants []models.GrantRecord `json:"grants,omitempty"`
	Now    *time.Time           `json:"now,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
}

type predictRequest struct {
	FamilyID string      `json:"family_id"`
	History  []time.Time `json:"history"`
	Now      *time.Time  `json:"now,omitempty"`
}

func (s *Server) handleMatch(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request")
	}
	if len(req.Profile.FocusAreas) == 0 && req.Profile.Geography == "" && req.Profile.Need == nil {
		return errorJSON(c, http.StatusBadRequest, "profile needs focus_areas, geographic_scope or funding_need")
	}

	grants := req.Grants
	if grants == nil {
		var err error
		if grants, err = s.latestRecords(c.Request().Context()); err != nil {
			return errorJSON(c, http.StatusInternalServerError, err.Error())
		}
	}
	now := s.now()
	if req.Now != nil {
		now = *req.Now
	}

	results := s.opts.Matcher.Rank(grants, req.Profile, now)
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results, "total": len(results)})
}

func (s *Server) handlePredict(c echo.Context) error {
	var req predictRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request")
	}
	now := s.now()
	if req.Now != nil {
		now = *req.Now
	}

	pred, ok := s.opts.Predictor.Predict(req.FamilyID, req.History, now)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "no prediction: history is empty")
	}
	return c.JSON(http.StatusOK, pred)
}

// handleListPredictions predicts every family known to the store, or to the
// last run when no store is configured.
func (s *Server) handleListPredictions(c echo.Context) error {
	now := s.now()
	if s.opts.Store != nil {
		history, err := s.opts.Store.PostingHistory(c.Request().Context())
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, s.opts.Predictor.PredictFamilies(history, now))
	}
	records, err := s.latestRecords(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.opts.Predictor.PredictRecords(records, now))
}
