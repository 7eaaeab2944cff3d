package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/momangi/Pompiconni-app/internal/adapter/repo"
	"github.com/momangi/Pompiconni-app/internal/middleware"
	"github.com/momangi/Pompiconni-app/internal/pipeline"
	"github.com/momangi/Pompiconni-app/internal/storage"
)

type runRecordResponse struct {
	Status          string             `json:"status"`
	StatusLabel     string             `json:"status_label"`
	GenerationID    string             `json:"generation_id"`
	UserRequest     string             `json:"user_request"`
	OptimizedPrompt string             `json:"optimized_prompt,omitempty"`
	NegativePrompt  string             `json:"negative_prompt,omitempty"`
	StyleSpec       string             `json:"style_spec,omitempty"`
	QCReport        *pipeline.QCReport `json:"qc_report,omitempty"`
	HasFinalPNG     bool               `json:"has_final_png"`
	HasFinalPDF     bool               `json:"has_final_pdf"`
	HasThumbnail    bool               `json:"has_thumbnail"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	RetryCount      int                `json:"retry_count"`
	ErrorMessage    string             `json:"error_message,omitempty"`
}

// GetRun returns the stored record for one generation run.
func (a *App) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	rec, err := a.Runs.GetByID(r.Context(), runID)
	if err != nil {
		if errors.Is(err, repo.ErrRunNotFound) {
			a.jsonError(w, http.StatusNotFound, "generation not found")
			return
		}
		a.Logger.Error().Err(err).Str("run_id", runID).Msg("handlers: failed to load run")
		a.jsonError(w, http.StatusInternalServerError, "failed to load generation")
		return
	}

	locale := middleware.LocaleFromContext(r.Context())
	a.json(w, http.StatusOK, runRecordResponse{
		Status:          string(rec.Status),
		StatusLabel:     statusLabel(rec.Status, locale),
		GenerationID:    rec.ID,
		UserRequest:     rec.UserRequest,
		OptimizedPrompt: rec.OptimizedPrompt,
		NegativePrompt:  rec.NegativePrompt,
		StyleSpec:       rec.StyleSpec,
		QCReport:        rec.QCReport,
		HasFinalPNG:     rec.HasPrintPNG,
		HasFinalPDF:     rec.HasPDF,
		HasThumbnail:    rec.HasThumbnail,
		Metadata:        rec.Metadata,
		RetryCount:      rec.RetryCount,
		ErrorMessage:    rec.ErrorMessage,
	})
}

var artifactFiles = map[string]struct {
	file        string
	contentType string
}{
	"print":     {artifactPrintPNG, "image/png"},
	"pdf":       {artifactPDF, "application/pdf"},
	"thumbnail": {artifactThumbnail, "image/png"},
}

// DownloadArtifact streams one of the three artifacts of a run.
func (a *App) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "kind")

	spec, ok := artifactFiles[kind]
	if !ok {
		a.jsonError(w, http.StatusNotFound, "unknown artifact kind")
		return
	}

	data, err := a.Blobs.Read(r.Context(), storage.ArtifactKey(runID, spec.file))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.jsonError(w, http.StatusNotFound, "artifact not found")
			return
		}
		a.Logger.Error().Err(err).Str("run_id", runID).Str("kind", kind).Msg("handlers: failed to read artifact")
		a.jsonError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}

	w.Header().Set("Content-Type", spec.contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
