package safety

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"orion/internal/config"
	"orion/internal/observability"
)

var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{16}\b`),                                   // card-like numbers
	regexp.MustCompile(`\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`),                // SSN-style
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), // email
	regexp.MustCompile(`\b\+?\d{11,14}\b`),                             // long phone numbers
}

var promptInjectionMarkers = []string{"ignore previous", "disregard", "override", "system prompt"}

var dataLeakKeywords = []string{"confidential", "internal use", "top secret", "password", "api key", "token"}

const redactionToken = "[REDACTED]"

// Guard is the optional LLM safeguard consulted after the static layers.
type Guard interface {
	// Evaluate returns "allow" or "block"; transport failures return an error
	// and the caller applies the fail-open policy.
	Evaluate(ctx context.Context, text, traceID string) (decision string, reason string, err error)
}

// Filter evaluates queries and answers against the layered policy. It is
// stateless; each check reads a config snapshot.
type Filter struct {
	cfg   config.SafetyConfig
	guard Guard
}

func NewFilter(cfg config.SafetyConfig, guard Guard) *Filter {
	return &Filter{cfg: cfg, guard: guard}
}

// CheckInput runs the input layers in order: blocklist, prompt-injection
// markers, PII, then the optional LLM safeguard. The first non-allowed
// verdict wins.
func (f *Filter) CheckInput(ctx context.Context, req InputCheckRequest) Decision {
	traceID := f.traceID(req.Meta)
	log := observability.LoggerWithTrace(ctx)

	if kw := matchBlocklist(req.Query, f.cfg.Blocklist); kw != "" {
		log.Warn().Str("keyword", kw).Msg("safety_input_blocked")
		return f.decision(StatusBlocked, "disallowed_content",
			"keyword '"+kw+"' is not permitted", []string{"security_exploit"}, "", traceID)
	}

	if marker := matchInjection(req.Query); marker != "" {
		log.Warn().Str("marker", marker).Msg("safety_prompt_injection")
		return f.decision(StatusBlocked, "prompt_injection",
			"prompt injection attempt detected", []string{"prompt_injection"}, "", traceID)
	}

	if containsPII(req.Query) {
		switch piiAction(f.cfg.PolicyMode) {
		case "block":
			return f.decision(StatusBlocked, "pii_detected",
				"query contains sensitive information", []string{"pii"}, "", traceID)
		case "transform":
			if f.cfg.EnablePIISanitize {
				return f.decision(StatusTransformed, "pii_sanitized",
					"Sensitive data removed from query.", []string{"pii"}, redactPII(req.Query), traceID)
			}
		}
	}

	if d, ok := f.consultGuard(ctx, req.Query, traceID); ok {
		return d
	}

	return f.decision(StatusAllowed, "clean", "Request complies with safety policy", nil, "", traceID)
}

// CheckOutput runs the output layers: blocklist, data-leak vocabulary, PII.
// The LLM safeguard applies to inputs only.
func (f *Filter) CheckOutput(ctx context.Context, req OutputCheckRequest) Decision {
	traceID := f.traceID(req.Meta)
	log := observability.LoggerWithTrace(ctx)

	if kw := matchBlocklist(req.Answer, f.cfg.Blocklist); kw != "" {
		log.Warn().Str("keyword", kw).Msg("safety_output_blocked")
		return f.decision(StatusBlocked, "disallowed_content",
			"Answer contains forbidden topic '"+kw+"'", []string{"disallowed_content"}, "", traceID)
	}

	if matchDataLeak(req.Answer) {
		if f.cfg.EnablePIISanitize {
			return f.decision(StatusTransformed, "data_leak_suspected",
				"Answer references internal or confidential data", []string{"data_leak"},
				redactPII(req.Answer), traceID)
		}
		return f.decision(StatusBlocked, "data_leak_suspected",
			"Answer references internal or confidential data", []string{"data_leak"}, "", traceID)
	}

	if containsPII(req.Answer) {
		if f.cfg.EnablePIISanitize {
			return f.decision(StatusTransformed, "pii_sanitized",
				"Sensitive data removed from answer", []string{"pii"}, redactPII(req.Answer), traceID)
		}
		return f.decision(StatusBlocked, "pii_detected",
			"Answer contains PII", []string{"pii"}, "", traceID)
	}

	return f.decision(StatusAllowed, "clean", "Answer complies with safety policy", nil, "", traceID)
}

func (f *Filter) consultGuard(ctx context.Context, text, traceID string) (Decision, bool) {
	if !f.cfg.LLMEnabled || f.guard == nil {
		return Decision{}, false
	}
	log := observability.LoggerWithTrace(ctx)
	verdict, reason, err := f.guard.Evaluate(ctx, text, traceID)
	if err != nil {
		if f.cfg.LLMFailOpen {
			log.Warn().Err(err).Msg("safety_guard_unavailable_fail_open")
			return Decision{}, false
		}
		return f.decision(StatusBlocked, "safety_guard_unavailable",
			"LLM guard unavailable", []string{"llm_guard_unavailable"}, "", traceID), true
	}
	if verdict == "block" {
		if reason == "" {
			reason = "Blocked by safeguard model"
		}
		return f.decision(StatusBlocked, "llm_policy_violation", reason,
			[]string{"llm_policy"}, "", traceID), true
	}
	return Decision{}, false
}

func (f *Filter) decision(status, reason, message string, tags []string, transformed, traceID string) Decision {
	return Decision{
		Status:          status,
		Reason:          reason,
		Message:         message,
		RiskTags:        mergeTags(tags),
		TransformedText: transformed,
		PolicyID:        f.cfg.PolicyID,
		TraceID:         traceID,
	}
}

func (f *Filter) traceID(meta *Meta) string {
	if meta != nil && meta.TraceID != "" {
		return meta.TraceID
	}
	return uuid.NewString()
}

func matchBlocklist(text string, blocklist []string) string {
	lowered := strings.ToLower(text)
	for _, kw := range blocklist {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowered, kw) {
			return kw
		}
	}
	return ""
}

func matchInjection(text string) string {
	lowered := strings.ToLower(text)
	for _, marker := range promptInjectionMarkers {
		if strings.Contains(lowered, marker) {
			return marker
		}
	}
	return ""
}

func matchDataLeak(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range dataLeakKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func containsPII(text string) bool {
	for _, p := range piiPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func redactPII(text string) string {
	for _, p := range piiPatterns {
		text = p.ReplaceAllString(text, redactionToken)
	}
	return text
}

func piiAction(mode string) string {
	switch mode {
	case "strict":
		return "block"
	case "relaxed":
		return "allow"
	default:
		return "transform"
	}
}

func mergeTags(sources ...[]string) []string {
	merged := []string{}
	for _, src := range sources {
		for _, tag := range src {
			seen := false
			for _, m := range merged {
				if m == tag {
					seen = true
					break
				}
			}
			if !seen {
				merged = append(merged, tag)
			}
		}
	}
	return merged
}
