// Package ai calls the external reasoning model to re-evaluate HOLD cases.
//
// The client degrades, never propagates: any configuration, network, or
// parsing failure ends in a conservative HOLD fallback decision. The only
// side effect is the outbound HTTP call; the client writes nothing.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/configs"
	"github.com/enterprise/withdraw-review/internal/models"
)

// Client escalates a HOLD case to the reasoning model.
type Client struct {
	cfg        configs.AIConfig
	httpClient *http.Client

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewClient creates an escalation client. A zero APIKey disables network
// calls entirely; Escalate then returns the deterministic fallback.
func NewClient(cfg configs.AIConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.AttemptTimeout,
		},
		sleep: time.Sleep,
	}
}

// casePayload is the JSON case description sent alongside the fixed prompt.
type casePayload struct {
	Features   models.JSONB      `json:"features"`
	RuleEngine ruleEnginePayload `json:"rule_engine"`
	Behavior   interface{}       `json:"behavior_context,omitempty"`
}

type ruleEnginePayload struct {
	InitialDecision string `json:"initial_decision"`
	RuleID          *int64 `json:"rule_id"`
	RuleName        string `json:"rule_name,omitempty"`
	RuleNarrative   string `json:"rule_narrative,omitempty"`
}

// generateContent request/response shapes (Gemini REST).
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// attemptOutcome is the explicit result of one model attempt. An attempt
// either succeeds, fails in a way worth retrying with the same prompt
// (transport trouble, unparseable model output), or fails terminally
// (malformed request, empty candidate list).
type attemptOutcome struct {
	decision  *models.AIDecision
	retryable bool
	err       error
}

// Escalate re-evaluates one HOLD case. It never returns an error: every
// failure mode maps to a fallback AIDecision with a sentinel threat tag and
// risk score -1 (meaning "no score was computed", not a risk level).
func (c *Client) Escalate(ctx context.Context, features models.FeatureSet, ruleCtx models.RuleContext, behavior *models.BehaviorContext) models.AIDecision {
	if c.cfg.APIKey == "" {
		return models.AIDecision{
			FinalDecision: models.DecisionHold,
			PrimaryThreat: models.ThreatNone,
			RiskScore:     0,
			Confidence:    0.5,
			Narrative:     "AI config missing. Keeping HOLD for manual review.",
			RuleAlignment: models.AlignmentAgrees,
		}
	}

	prompt, err := c.buildPrompt(features, ruleCtx, behavior)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build AI case payload")
		return fallbackDecision(models.ThreatAIErr, fmt.Sprintf("AI exception: %v", err))
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		outcome := c.attempt(ctx, prompt)
		if outcome.decision != nil {
			return *outcome.decision
		}

		log.Warn().
			Err(outcome.err).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxAttempts).
			Bool("retryable", outcome.retryable).
			Msg("AI reasoning attempt failed")

		if !outcome.retryable {
			break
		}
		if attempt < c.cfg.MaxAttempts {
			c.sleep(c.cfg.RetryBackoff)
		}
	}

	return fallbackDecision(models.ThreatAINetErr, "AI unavailable or invalid response. Keeping HOLD for manual review.")
}

func (c *Client) buildPrompt(features models.FeatureSet, ruleCtx models.RuleContext, behavior *models.BehaviorContext) (string, error) {
	payload := casePayload{
		Features: features.Snapshot(),
		RuleEngine: ruleEnginePayload{
			InitialDecision: ruleCtx.Decision,
			RuleName:        ruleCtx.RuleName,
			RuleNarrative:   ruleCtx.Narrative,
		},
	}
	if payload.RuleEngine.InitialDecision == "" {
		payload.RuleEngine.InitialDecision = models.DecisionHold
	}
	if ruleCtx.RuleID != 0 {
		id := ruleCtx.RuleID
		payload.RuleEngine.RuleID = &id
	}
	if behavior != nil {
		payload.Behavior = behavior
	}

	caseJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal case payload: %w", err)
	}

	return fmt.Sprintf("%s\n\nCase JSON:\n%s", reasoningPrompt, caseJSON), nil
}

// attempt performs one request/parse cycle against the reasoning endpoint.
func (c *Client) attempt(ctx context.Context, prompt string) attemptOutcome {
	reqBody, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return attemptOutcome{retryable: false, err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return attemptOutcome{retryable: false, err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return attemptOutcome{retryable: true, err: fmt.Errorf("reasoning endpoint: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptOutcome{retryable: true, err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		// 5xx and 429 are transport-level trouble; 4xx means the request
		// itself is wrong and a retry with the same request cannot help.
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return attemptOutcome{retryable: retryable, err: fmt.Errorf("reasoning endpoint status %d", resp.StatusCode)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return attemptOutcome{retryable: false, err: fmt.Errorf("decode response envelope: %w", err)}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return attemptOutcome{retryable: false, err: fmt.Errorf("no candidates returned")}
	}

	decision, err := parseDecision(parsed.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		// The model is not deterministic; the same prompt may produce
		// usable JSON on the next attempt.
		return attemptOutcome{retryable: true, err: err}
	}

	return attemptOutcome{decision: decision}
}

func fallbackDecision(threat, narrative string) models.AIDecision {
	return models.AIDecision{
		FinalDecision: models.DecisionHold,
		PrimaryThreat: threat,
		RiskScore:     -1,
		Confidence:    0.5,
		Narrative:     narrative,
		RuleAlignment: models.AlignmentAgrees,
	}
}
