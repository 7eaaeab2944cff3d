package pipeline

// Verdict is the aggregate outcome of one quality check.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictPartial Verdict = "partial"
	VerdictFail    Verdict = "fail"
)

// QCReport is the structured verdict of one Quality Evaluator call. A report
// is immutable once built; every attempt produces a fresh one.
type QCReport struct {
	Result                 Verdict  `json:"result"`
	PopcornBucketPresent   bool     `json:"popcorn_bucket_present"`
	PoppiconniTextReadable bool     `json:"poppiconni_text_readable"`
	LineartStyleOK         bool     `json:"lineart_style_ok"`
	ColorabilityOK         bool     `json:"colorability_ok"`
	NoForbiddenContent     bool     `json:"no_forbidden_content"`
	ConfidenceScore        float64  `json:"confidence_score"`
	Issues                 []string `json:"issues"`
	PromptPatch            string   `json:"prompt_patch,omitempty"`
}

// ComputeVerdict derives the aggregate verdict from the five brand checks:
// pass requires all five, two or fewer is a fail, anything between is
// partial.
func ComputeVerdict(bucket, textReadable, lineart, colorability, safe bool) Verdict {
	passed := 0
	for _, ok := range [5]bool{bucket, textReadable, lineart, colorability, safe} {
		if ok {
			passed++
		}
	}
	switch {
	case passed == 5:
		return VerdictPass
	case passed <= 2:
		return VerdictFail
	default:
		return VerdictPartial
	}
}

// fallbackReport is the deterministic verdict used when the evaluator
// response cannot be parsed. Zero confidence guarantees the candidate can
// never displace a scored one as the run's best.
func fallbackReport() QCReport {
	return QCReport{
		Result:          VerdictFail,
		ConfidenceScore: 0,
		Issues:          []string{fallbackIssue},
		PromptPatch:     fallbackPatch,
	}
}
