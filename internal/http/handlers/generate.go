package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/momangi/Pompiconni-app/internal/middleware"
	"github.com/momangi/Pompiconni-app/internal/pipeline"
	"github.com/momangi/Pompiconni-app/internal/storage"
)

const (
	artifactPrintPNG  = "print.png"
	artifactPDF       = "page.pdf"
	artifactThumbnail = "thumbnail.png"
)

type generateRequest struct {
	UserRequest          string `json:"user_request"`
	ReferenceImageBase64 string `json:"reference_image_base64"`
	StyleLock            bool   `json:"style_lock"`
}

type runResponse struct {
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
	BackgroundRetry bool               `json:"background_retry"`
}

// Generate runs the synchronous pipeline for one request, persists the
// result, and schedules the background continuation when the run ends
// low-confidence.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(body.UserRequest) == "" {
		a.jsonError(w, http.StatusBadRequest, "user_request is required")
		return
	}

	actor := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
	req := pipeline.GenerationRequest{
		UserRequest:          body.UserRequest,
		ReferenceImageBase64: body.ReferenceImageBase64,
		StyleLock:            body.StyleLock,
		ActorID:              actor,
	}

	run := a.Pipeline.Run(r.Context(), req)

	if err := a.persistRun(r.Context(), run); err != nil {
		a.Logger.Error().Err(err).Str("run_id", run.ID).Msg("handlers: failed to persist run")
		a.jsonError(w, http.StatusInternalServerError, "failed to persist generation result")
		return
	}

	scheduled := false
	if run.Status == pipeline.StatusLowConfidence && a.Retry != nil {
		scheduled = a.Retry.Schedule(pipeline.ContinuationRequest{
			RunID:                run.ID,
			UserRequest:          run.UserRequest,
			LastPrompt:           run.OptimizedPrompt,
			ReferenceImageBase64: body.ReferenceImageBase64,
			StyleLock:            body.StyleLock,
		})
	}

	locale := middleware.LocaleFromContext(r.Context())
	a.json(w, http.StatusOK, toRunResponse(run, locale, scheduled))
}

func (a *App) persistRun(ctx context.Context, run *pipeline.PipelineRun) error {
	if run.Artifacts != nil {
		artifacts := map[string][]byte{
			artifactPrintPNG:  run.Artifacts.PrintPNG,
			artifactPDF:       run.Artifacts.PDF,
			artifactThumbnail: run.Artifacts.Thumbnail,
		}
		for name, data := range artifacts {
			if len(data) == 0 {
				continue
			}
			if _, err := a.Blobs.Write(ctx, storage.ArtifactKey(run.ID, name), data); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
		}
	}
	return a.Runs.Save(ctx, run)
}

func toRunResponse(run *pipeline.PipelineRun, locale string, backgroundRetry bool) runResponse {
	return runResponse{
		Status:          string(run.Status),
		StatusLabel:     statusLabel(run.Status, locale),
		GenerationID:    run.ID,
		UserRequest:     run.UserRequest,
		OptimizedPrompt: run.OptimizedPrompt,
		NegativePrompt:  run.NegativePrompt,
		StyleSpec:       run.StyleSpec,
		QCReport:        run.QCReport,
		HasFinalPNG:     run.Artifacts != nil && len(run.Artifacts.PrintPNG) > 0,
		HasFinalPDF:     run.Artifacts != nil && len(run.Artifacts.PDF) > 0,
		HasThumbnail:    run.Artifacts != nil && len(run.Artifacts.Thumbnail) > 0,
		Metadata:        run.Metadata,
		RetryCount:      run.RetryCount,
		ErrorMessage:    run.ErrorMessage,
		BackgroundRetry: backgroundRetry,
	}
}

var statusLabels = map[pipeline.Status]map[string]string{
	pipeline.StatusCompleted: {
		"it": "Illustrazione pronta per la stampa",
		"en": "Illustration ready for print",
	},
	pipeline.StatusLowConfidence: {
		"it": "Qualità incerta: disponibile il miglior tentativo, nuovo tentativo in corso",
		"en": "Low confidence: best attempt available, background retry in progress",
	},
	pipeline.StatusFailed: {
		"it": "Generazione fallita",
		"en": "Generation failed",
	},
	pipeline.StatusAsyncRetry: {
		"it": "Nuovo tentativo in background",
		"en": "Background retry in progress",
	},
}

func statusLabel(status pipeline.Status, locale string) string {
	labels, ok := statusLabels[status]
	if !ok {
		return string(status)
	}
	if label, ok := labels[locale]; ok {
		return label
	}
	return labels["it"]
}
