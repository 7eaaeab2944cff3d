package llm

import (
	"errors"
	"testing"
)

type samplePayload struct {
	Prompt string `json:"generation_prompt"`
	Score  float64 `json:"confidence_score"`
}

func TestDecodePayloadPlainJSON(t *testing.T) {
	got, err := DecodePayload[samplePayload](`{"generation_prompt": "p", "confidence_score": 0.8}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Prompt != "p" || got.Score != 0.8 {
		t.Fatalf("payload = %+v", got)
	}
}

func TestDecodePayloadMarkdownFence(t *testing.T) {
	raw := "```json\n{\"generation_prompt\": \"dentro il fence\"}\n```"
	got, err := DecodePayload[samplePayload](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Prompt != "dentro il fence" {
		t.Fatalf("prompt = %q", got.Prompt)
	}
}

func TestDecodePayloadSurroundingProse(t *testing.T) {
	raw := `Certo! Ecco il risultato richiesto:

{"generation_prompt": "tra la prosa"}

Fammi sapere se serve altro.`
	got, err := DecodePayload[samplePayload](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Prompt != "tra la prosa" {
		t.Fatalf("prompt = %q", got.Prompt)
	}
}

func TestDecodePayloadNoJSON(t *testing.T) {
	if _, err := DecodePayload[samplePayload]("nessun json qui"); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("err = %v, want ErrNoPayload", err)
	}
}

func TestDecodePayloadMalformedJSON(t *testing.T) {
	if _, err := DecodePayload[samplePayload](`{"generation_prompt": `); err == nil {
		t.Fatalf("expected an error for unbalanced json")
	}
}

func TestExtractJSONFragmentBracesInsideStrings(t *testing.T) {
	raw := `{"generation_prompt": "usa {queste} parentesi", "note": "fine"}`
	if got := ExtractJSONFragment(raw); got != raw {
		t.Fatalf("fragment = %q, want the full object", got)
	}
}

func TestExtractJSONFragmentEscapedQuotes(t *testing.T) {
	raw := `{"generation_prompt": "scritta \"POPPICONNI\" leggibile"}`
	if got := ExtractJSONFragment(raw); got != raw {
		t.Fatalf("fragment = %q, want the full object", got)
	}
}

func TestExtractJSONFragmentNestedObjects(t *testing.T) {
	raw := `prefisso {"outer": {"inner": 1}} suffisso`
	want := `{"outer": {"inner": 1}}`
	if got := ExtractJSONFragment(raw); got != want {
		t.Fatalf("fragment = %q, want %q", got, want)
	}
}

func TestExtractJSONFragmentEmpty(t *testing.T) {
	if got := ExtractJSONFragment("solo testo"); got != "" {
		t.Fatalf("fragment = %q, want empty", got)
	}
}
