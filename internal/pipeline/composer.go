package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/momangi/Pompiconni-app/internal/providers/llm"
)

// ComposedPrompt is the structured output of the composition phase.
// StyleSpec is only populated when a reference image was analyzed.
type ComposedPrompt struct {
	GenerationPrompt string
	NegativePrompt   string
	StyleSpec        string
}

// Composer turns a user request into a brand-compliant generation prompt.
type Composer interface {
	Compose(ctx context.Context, req GenerationRequest) (*ComposedPrompt, error)
}

// PromptComposer delegates interpretation of the user request to the
// language/vision model. It runs exactly once per run: any unrecoverable
// model error is fatal for the whole run.
type PromptComposer struct {
	chat   llm.Completer
	logger zerolog.Logger
}

type composerPayload struct {
	GenerationPrompt string `json:"generation_prompt"`
	NegativePrompt   string `json:"negative_prompt"`
	StyleSpec        string `json:"style_spec"`
}

// NewPromptComposer wires a composer onto a chat completer.
func NewPromptComposer(chat llm.Completer, logger zerolog.Logger) *PromptComposer {
	return &PromptComposer{chat: chat, logger: logger}
}

// Compose asks the model for an optimized (prompt, negative prompt, style
// spec) triple. When the response carries no parseable JSON the raw text is
// used as the prompt and a generic negative prompt is substituted.
func (c *PromptComposer) Compose(ctx context.Context, req GenerationRequest) (*ComposedPrompt, error) {
	response, err := c.chat.Complete(ctx, llm.CompletionRequest{
		System:      composerSystemMessage(),
		Text:        composerUserMessage(req),
		ImageBase64: req.ReferenceImageBase64,
		Temperature: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("compose prompt: %w", err)
	}

	payload, err := llm.DecodePayload[composerPayload](response)
	if err != nil || strings.TrimSpace(payload.GenerationPrompt) == "" {
		c.logger.Warn().
			Str("response_head", head(response, 200)).
			Msg("pipeline: composer payload not parseable, using raw response as prompt")
		return &ComposedPrompt{
			GenerationPrompt: response,
			NegativePrompt:   genericNegativePrompt,
		}, nil
	}

	return &ComposedPrompt{
		GenerationPrompt: payload.GenerationPrompt,
		NegativePrompt:   payload.NegativePrompt,
		StyleSpec:        payload.StyleSpec,
	}, nil
}

func composerSystemMessage() string {
	sb := &strings.Builder{}
	sb.WriteString("Sei un esperto di prompt engineering per generazione di immagini AI.\n")
	sb.WriteString("Il tuo compito è creare prompt ottimizzati che rispettino RIGOROSAMENTE le regole del brand Poppiconni.\n\n")
	sb.WriteString(brandRules)
	sb.WriteString("\n\n")
	sb.WriteString(characterDescription)
	sb.WriteString("\n\nISTRUZIONI:\n")
	sb.WriteString("1. Analizza la richiesta dell'utente\n")
	sb.WriteString("2. Genera un prompt dettagliato che includa TUTTI gli elementi obbligatori del brand\n")
	sb.WriteString("3. Il barattolo di popcorn con scritta \"POPPICONNI\" deve essere ESPLICITAMENTE richiesto\n")
	sb.WriteString("4. Specifica sempre lo stile line-art per libro da colorare\n\n")
	sb.WriteString("FORMATO OUTPUT (JSON):\n")
	sb.WriteString(`{"generation_prompt": "prompt completo per generare l'immagine", "negative_prompt": "elementi da evitare", "style_spec": "specifica dello stile estratta da immagine di riferimento (se presente)"}`)
	return sb.String()
}

func composerUserMessage(req GenerationRequest) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Richiesta utente: %s\n\n", req.UserRequest)
	sb.WriteString("Genera i prompt ottimizzati per creare un'illustrazione da libro da colorare con Poppiconni.\n")
	sb.WriteString("RICORDA: Il barattolo di popcorn con scritta \"POPPICONNI\" è OBBLIGATORIO.\n")
	if req.ReferenceImageBase64 != "" {
		sb.WriteString(`
IMPORTANTE: È presente un'IMMAGINE DI RIFERIMENTO (prototipo).
DEVI analizzare attentamente questa immagine e nel tuo prompt includere:

1. ANALISI DELLO STILE dell'immagine di riferimento:
   - Tipo di tratti (spessi/sottili, uniformi/variabili)
   - Stile delle linee (curve morbide, angoli netti, etc.)
   - Livello di dettaglio
   - Proporzioni del personaggio
   - Stile degli occhi, espressioni, pose

2. Nel "generation_prompt" DEVI specificare di replicare esattamente:
   - Lo stesso spessore delle linee
   - Lo stesso stile di tratto
   - Le stesse proporzioni del personaggio
   - Lo stesso livello di dettaglio
   - Lo stesso stile kawaii/cartoon se presente

3. Nel "style_spec" descrivi in dettaglio lo stile estratto dall'immagine.

L'obiettivo è che l'immagine generata sembri disegnata dalla STESSA MANO dell'immagine di riferimento.
`)
	}
	return sb.String()
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Composer = (*PromptComposer)(nil)
