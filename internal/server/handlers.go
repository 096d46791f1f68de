package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/cocorobi/cardpool/internal/auth"
	"github.com/cocorobi/cardpool/internal/ingest"
	"github.com/cocorobi/cardpool/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("health check store ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngest accepts a multipart CSV upload and runs the pipeline.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	// Multipart framing adds overhead beyond the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}

	res, err := s.ingestor.Ingest(r.Context(), id, header.Filename, data)
	if err != nil {
		if errors.Is(err, ingest.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zap.L().Error("ingest failed",
			zap.String("user_id", id.UserID),
			zap.String("filename", header.Filename),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process upload")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tags, err := s.ingestor.AllTags(r.Context(), id.UserID)
	if err != nil {
		zap.L().Error("tag aggregation failed", zap.String("user_id", id.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to aggregate tags")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tags":      tags,
		"tag_count": len(tags),
	})
}

// tagSettingPayload is the wire form of one tag consent flag.
type tagSettingPayload struct {
	TagName    string `json:"tag_name"`
	AllowSales bool   `json:"allow_sales"`
}

// handleGetTagSettings returns a consent flag for every tag the user has,
// defaulting to allowed where no row is stored.
func (s *Server) handleGetTagSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	tags, err := s.ingestor.AllTags(r.Context(), id.UserID)
	if err != nil {
		zap.L().Error("tag aggregation failed", zap.String("user_id", id.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to aggregate tags")
		return
	}
	stored, err := s.store.ListTagSettings(r.Context(), id.UserID)
	if err != nil {
		zap.L().Error("tag settings load failed", zap.String("user_id", id.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load tag settings")
		return
	}

	allow := make(map[string]bool, len(tags))
	for _, tag := range tags {
		allow[tag] = true
	}
	for _, st := range stored {
		allow[st.TagName] = st.AllowSales
	}

	settings := make([]tagSettingPayload, 0, len(allow))
	for tag, ok := range allow {
		settings = append(settings, tagSettingPayload{TagName: tag, AllowSales: ok})
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].TagName < settings[j].TagName })

	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// handlePutTagSettings stores the submitted consent flags in one atomic
// upsert.
func (s *Server) handlePutTagSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		Settings []tagSettingPayload `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(body.Settings) == 0 {
		writeError(w, http.StatusBadRequest, "no settings submitted")
		return
	}

	settings := make([]model.TagSetting, len(body.Settings))
	for i, p := range body.Settings {
		if p.TagName == "" {
			writeError(w, http.StatusBadRequest, "empty tag name")
			return
		}
		settings[i] = model.TagSetting{
			UserID:     id.UserID,
			TagName:    p.TagName,
			AllowSales: p.AllowSales,
		}
	}

	if err := s.store.UpsertTagSettings(r.Context(), id.UserID, settings); err != nil {
		zap.L().Error("tag settings upsert failed", zap.String("user_id", id.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save tag settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(settings)})
}

// handleProfile returns the supporter row plus a live shared-pool count.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sup, err := s.store.GetSupporter(r.Context(), id.UserID)
	if err != nil {
		zap.L().Error("supporter load failed", zap.String("user_id", id.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if sup == nil {
		writeError(w, http.StatusNotFound, "no supporter profile")
		return
	}

	count, err := s.store.CountSharedCards(r.Context(), id.UserID)
	if err != nil {
		zap.L().Warn("shared card count failed, using contributor rows",
			zap.String("user_id", id.UserID), zap.Error(err))
		if count, err = s.store.CountContributorRows(r.Context(), id.UserID); err != nil {
			zap.L().Warn("contributor row count failed",
				zap.String("user_id", id.UserID), zap.Error(err))
			count = 0
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"supporter":    sup,
		"shared_count": count,
	})
}
