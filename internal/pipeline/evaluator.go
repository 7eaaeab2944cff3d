package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/momangi/Pompiconni-app/internal/providers/llm"
)

// Evaluator scores one candidate against the brand checklist. Evaluation
// never aborts a run: any failure degrades to the deterministic zero-score
// fallback report.
type Evaluator interface {
	Evaluate(ctx context.Context, imageData []byte, prompt string) QCReport
}

// VisionEvaluator delegates the checklist to the vision model.
type VisionEvaluator struct {
	chat   llm.Completer
	logger zerolog.Logger
}

type qcPayload struct {
	PopcornBucketPresent   bool     `json:"popcorn_bucket_present"`
	PoppiconniTextReadable bool     `json:"poppiconni_text_readable"`
	PoppiconniTextFound    string   `json:"poppiconni_text_found"`
	LineartStyleOK         bool     `json:"lineart_style_ok"`
	ColorabilityOK         bool     `json:"colorability_ok"`
	NoForbiddenContent     *bool    `json:"no_forbidden_content"`
	ConfidenceScore        float64  `json:"confidence_score"`
	Issues                 []string `json:"issues"`
	PromptPatch            string   `json:"prompt_patch"`
}

// NewVisionEvaluator wires an evaluator onto a chat completer.
func NewVisionEvaluator(chat llm.Completer, logger zerolog.Logger) *VisionEvaluator {
	return &VisionEvaluator{chat: chat, logger: logger}
}

// Evaluate submits the candidate plus the prompt that produced it and builds
// a QCReport from the structured response.
func (e *VisionEvaluator) Evaluate(ctx context.Context, imageData []byte, prompt string) QCReport {
	response, err := e.chat.Complete(ctx, llm.CompletionRequest{
		System:      evaluatorSystemMessage(),
		Text:        evaluatorUserMessage(prompt),
		ImageBase64: base64.StdEncoding.EncodeToString(imageData),
		Temperature: 0.2,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("pipeline: quality check call failed, using fallback report")
		return fallbackReport()
	}

	payload, err := llm.DecodePayload[qcPayload](response)
	if err != nil {
		e.logger.Warn().
			Str("response_head", head(response, 200)).
			Msg("pipeline: quality check payload not parseable, using fallback report")
		return fallbackReport()
	}

	// The forbidden-content check defaults to true when the model omits it:
	// an absent key must not read as a content violation.
	safe := true
	if payload.NoForbiddenContent != nil {
		safe = *payload.NoForbiddenContent
	}

	return QCReport{
		Result: ComputeVerdict(
			payload.PopcornBucketPresent,
			payload.PoppiconniTextReadable,
			payload.LineartStyleOK,
			payload.ColorabilityOK,
			safe,
		),
		PopcornBucketPresent:   payload.PopcornBucketPresent,
		PoppiconniTextReadable: payload.PoppiconniTextReadable,
		LineartStyleOK:         payload.LineartStyleOK,
		ColorabilityOK:         payload.ColorabilityOK,
		NoForbiddenContent:     safe,
		ConfidenceScore:        clampScore(payload.ConfidenceScore),
		Issues:                 payload.Issues,
		PromptPatch:            strings.TrimSpace(payload.PromptPatch),
	}
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

func evaluatorSystemMessage() string {
	sb := &strings.Builder{}
	sb.WriteString("Sei un ispettore di qualità per le illustrazioni del brand Poppiconni.\n")
	sb.WriteString("Il tuo compito è verificare che l'immagine rispetti TUTTE le regole del brand.\n\n")
	sb.WriteString(brandRules)
	sb.WriteString("\n\nISTRUZIONI DI VERIFICA:\n")
	sb.WriteString("1. Verifica presenza del barattolo di popcorn\n")
	sb.WriteString("2. Verifica che la scritta \"POPPICONNI\" sia LEGGIBILE (usa OCR mentale)\n")
	sb.WriteString("3. Verifica che lo stile sia line-art adatto alla colorazione\n")
	sb.WriteString("4. Verifica assenza di contenuti vietati\n")
	sb.WriteString("5. Valuta la \"colorabilità\" (aree ampie, linee chiare)\n\n")
	sb.WriteString("FORMATO OUTPUT (JSON):\n")
	sb.WriteString(`{"popcorn_bucket_present": true, "poppiconni_text_readable": true, "poppiconni_text_found": "testo letto", "lineart_style_ok": true, "colorability_ok": true, "no_forbidden_content": true, "confidence_score": 0.0, "issues": [], "prompt_patch": "suggerimento (se fallisce)"}`)
	return sb.String()
}

func evaluatorUserMessage(prompt string) string {
	return fmt.Sprintf(`Analizza questa immagine generata per il brand Poppiconni.

Prompt originale usato: %s

Esegui il Quality Check completo e restituisci il report in formato JSON.
IMPORTANTE: Verifica ATTENTAMENTE che la scritta "POPPICONNI" sia presente e LEGGIBILE.
`, prompt)
}

var _ Evaluator = (*VisionEvaluator)(nil)
