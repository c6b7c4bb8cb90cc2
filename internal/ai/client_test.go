package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/withdraw-review/configs"
	"github.com/enterprise/withdraw-review/internal/models"
)

// fakeTransport replays a scripted sequence of responses, one per attempt.
type fakeTransport struct {
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	idx := t.calls
	t.calls++
	if idx >= len(t.responses) {
		return nil, errors.New("more HTTP calls than scripted")
	}
	r := t.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func modelReply(t *testing.T, decisionText string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": decisionText}}}},
		},
	})
	require.NoError(t, err)
	return string(body)
}

func newTestClient(transport *fakeTransport) (*Client, *int) {
	client := NewClient(configs.AIConfig{
		APIKey:         "test-key",
		Model:          "gemini-2.5-flash",
		BaseURL:        "https://reasoning.test/v1",
		AttemptTimeout: time.Second,
		MaxAttempts:    3,
		RetryBackoff:   500 * time.Millisecond,
	})
	client.httpClient = &http.Client{Transport: transport}
	sleeps := 0
	client.sleep = func(time.Duration) { sleeps++ }
	return client, &sleeps
}

func holdRuleContext() models.RuleContext {
	return models.RuleContext{
		Triggered: true,
		Decision:  models.DecisionHold,
		RuleID:    7,
		RuleName:  "Near-total drain",
		Narrative: "[Rule #7] Near-total drain",
	}
}

func TestEscalateWithoutCredentials(t *testing.T) {
	client := NewClient(configs.AIConfig{MaxAttempts: 3})
	transport := &fakeTransport{}
	client.httpClient = &http.Client{Transport: transport}

	decision := client.Escalate(context.Background(), models.FeatureSet{}, holdRuleContext(), nil)

	assert.Zero(t, transport.calls, "no network without an API key")
	assert.Equal(t, models.DecisionHold, decision.FinalDecision)
	assert.Equal(t, models.ThreatNone, decision.PrimaryThreat)
	assert.Equal(t, 0, decision.RiskScore)
	assert.Equal(t, 0.5, decision.Confidence)
}

func TestEscalateSuccessFirstAttempt(t *testing.T) {
	reply := modelReply(t, `{"final_decision":"PASS","primary_threat":"NONE","risk_score":15,"confidence":0.92,"narrative":"Consistent history.","rule_alignment":"OVERRIDES_TO_PASS"}`)
	transport := &fakeTransport{responses: []fakeResponse{
		{status: http.StatusOK, body: reply},
	}}
	client, sleeps := newTestClient(transport)

	decision := client.Escalate(context.Background(), models.FeatureSet{"withdrawal_ratio": 0.95}, holdRuleContext(), nil)

	assert.Equal(t, 1, transport.calls)
	assert.Zero(t, *sleeps)
	assert.Equal(t, models.DecisionPass, decision.FinalDecision)
	assert.Equal(t, 15, decision.RiskScore)
	assert.Equal(t, models.AlignmentOverridePass, decision.RuleAlignment)
}

func TestEscalateRetriesTransportFailure(t *testing.T) {
	reply := modelReply(t, `{"final_decision":"HOLD","risk_score":70}`)
	transport := &fakeTransport{responses: []fakeResponse{
		{err: errors.New("connection reset")},
		{status: http.StatusOK, body: reply},
	}}
	client, sleeps := newTestClient(transport)

	decision := client.Escalate(context.Background(), models.FeatureSet{}, holdRuleContext(), nil)

	assert.Equal(t, 2, transport.calls)
	assert.Equal(t, 1, *sleeps, "one backoff between the two attempts")
	assert.Equal(t, models.DecisionHold, decision.FinalDecision)
	assert.Equal(t, 70, decision.RiskScore)
}

func TestEscalateRetries5xxAnd429(t *testing.T) {
	reply := modelReply(t, `{"final_decision":"PASS","risk_score":10}`)
	transport := &fakeTransport{responses: []fakeResponse{
		{status: http.StatusInternalServerError, body: "busy"},
		{status: http.StatusTooManyRequests, body: "slow down"},
		{status: http.StatusOK, body: reply},
	}}
	client, _ := newTestClient(transport)

	decision := client.Escalate(context.Background(), models.FeatureSet{}, holdRuleContext(), nil)

	assert.Equal(t, 3, transport.calls)
	assert.Equal(t, models.DecisionPass, decision.FinalDecision)
}

func TestEscalateExhaustedRetriesFallsBack(t *testing.T) {
	transport := &fakeTransport{responses: []fakeResponse{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
	}}
	client, sleeps := newTestClient(transport)

	decision := client.Escalate(context.Background(), models.FeatureSet{}, holdRuleContext(), nil)

	assert.Equal(t, 3, transport.calls)
	assert.Equal(t, 2, *sleeps, "no backoff after the final attempt")
	assert.Equal(t, models.DecisionHold, decision.FinalDecision)
	assert.Equal(t, models.ThreatAINetErr, decision.PrimaryThreat)
	assert.Equal(t, -1, decision.RiskScore)
	assert.Equal(t, 0.5, decision.Confidence)
}

func TestEscalateRetriesUnparseableReply(t *testing.T) {
	prose := modelReply(t, "I am unable to produce JSON for this case.")
	pass := modelReply(t, `{"final_decision":"PASS","primary_threat":"NONE","risk_score":20,"confidence":0.9}`)
	transport := &fakeTransport{responses: []fakeResponse{
		{status: http.StatusOK, body: prose},
		{status: http.StatusOK, body: pass},
	}}
	client, sleeps := newTestClient(transport)

	decision := client.Escalate(context.Background(), models.FeatureSet{}, holdRuleContext(), nil)

	assert.Equal(t, 2, transport.calls, "the same prompt is re-asked after a rejected answer")
	assert.Equal(t, 1, *sleeps)
	assert.Equal(t, models.DecisionPass, decision.FinalDecision)
	assert.Equal(t, 20, decision.RiskScore)
}

func TestEscalateUnparseableRepliesExhaustBudget(t *testing.T) {
	prose := modelReply(t, "Still no JSON, sorry.")
	transport := &fakeTransport{responses: []fakeResponse{
		{status: http.StatusOK, body: prose},
		{status: http.StatusOK, body: prose},
		{status: http.StatusOK, body: prose},
	}}
	client, sleeps := newTestClient(transport)

	decision := client.Escalate(context.Background(), models.FeatureSet{}, holdRuleContext(), nil)

	assert.Equal(t, 3, transport.calls)
	assert.Equal(t, 2, *sleeps)
	assert.Equal(t, models.ThreatAINetErr, decision.PrimaryThreat)
	assert.Equal(t, -1, decision.RiskScore)
}

func TestEscalateEmptyCandidatesIsTerminal(t *testing.T) {
	transport := &fakeTransport{responses: []fakeResponse{
		{status: http.StatusOK, body: `{"candidates":[]}`},
	}}
	client, sleeps := newTestClient(transport)

	decision := client.Escalate(context.Background(), models.FeatureSet{}, holdRuleContext(), nil)

	assert.Equal(t, 1, transport.calls)
	assert.Zero(t, *sleeps)
	assert.Equal(t, models.ThreatAINetErr, decision.PrimaryThreat)
}

func TestEscalateClientErrorIsTerminal(t *testing.T) {
	transport := &fakeTransport{responses: []fakeResponse{
		{status: http.StatusBadRequest, body: "bad request"},
	}}
	client, _ := newTestClient(transport)

	decision := client.Escalate(context.Background(), models.FeatureSet{}, holdRuleContext(), nil)

	assert.Equal(t, 1, transport.calls)
	assert.Equal(t, models.ThreatAINetErr, decision.PrimaryThreat)
}

func TestEscalateStripsFencedReply(t *testing.T) {
	reply := modelReply(t, "```json\n{\"final_decision\":\"REJECT\",\"primary_threat\":\"SCAM\",\"risk_score\":90}\n```")
	transport := &fakeTransport{responses: []fakeResponse{
		{status: http.StatusOK, body: reply},
	}}
	client, _ := newTestClient(transport)

	decision := client.Escalate(context.Background(), models.FeatureSet{}, holdRuleContext(), nil)

	assert.Equal(t, models.DecisionReject, decision.FinalDecision)
	assert.Equal(t, models.ThreatSCAM, decision.PrimaryThreat)
	assert.Equal(t, 90, decision.RiskScore)
}
