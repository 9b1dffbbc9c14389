package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pingme/internal/metrics"
	"pingme/internal/model"
)

// ErrRateLimited marks a generator error caused by the service's rate limit.
var ErrRateLimited = errors.New("enrich: rate limited")

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Analysis is the enrichment attached to one event.
type Analysis struct {
	Summary             string      `json:"summary"`
	Impact              string      `json:"impact"`
	Recommendations     []string    `json:"recommendations"`
	Urgency             model.Level `json:"urgency"`
	UserFriendlyMessage string      `json:"userFriendlyMessage"`
	Fallback            bool        `json:"-"`
}

// Config holds analyzer settings.
type Config struct {
	Timeout    time.Duration
	BatchDelay time.Duration
}

// Analyzer calls the generator with a bounded timeout and substitutes a
// deterministic analysis on any failure.
type Analyzer struct {
	gen     Generator
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewAnalyzer builds an Analyzer. A nil generator makes every analysis a fallback.
func NewAnalyzer(gen Generator, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	return &Analyzer{gen: gen, cfg: cfg, logger: logger, metrics: m}
}

type result struct {
	text string
	err  error
}

// Analyze never fails; callers always get a usable analysis.
func (a *Analyzer) Analyze(ctx context.Context, ev model.DomainEvent) Analysis {
	if a.gen == nil {
		a.metrics.Fallback("disabled")
		return Fallback(ev)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		text, err := a.gen.Generate(callCtx, Prompt(ev))
		done <- result{text: text, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = result{err: callCtx.Err()}
	}

	if res.err != nil {
		reason := "error"
		switch {
		case errors.Is(res.err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(res.err, ErrRateLimited):
			reason = "rate_limited"
		}
		a.metrics.Fallback(reason)
		a.logger.Warn("analysis failed, using fallback", zap.String("event_id", ev.ID), zap.String("reason", reason), zap.Error(res.err))
		return Fallback(ev)
	}

	analysis, reason, err := parseAnalysis(res.text, ev)
	if err != nil {
		a.metrics.Fallback(reason)
		a.logger.Warn("analysis unusable, using fallback", zap.String("event_id", ev.ID), zap.String("reason", reason), zap.Error(err))
		return Fallback(ev)
	}

	a.logger.Debug("analysis complete", zap.String("event_id", ev.ID), zap.String("urgency", string(analysis.Urgency)))
	return analysis
}

// AnalyzeBatch analyzes events one at a time, pausing BatchDelay between calls.
// A cancelled context turns the remaining events into fallbacks.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, events []model.DomainEvent) []Analysis {
	out := make([]Analysis, 0, len(events))
	for i, ev := range events {
		if ctx.Err() != nil {
			out = append(out, Fallback(ev))
			continue
		}
		out = append(out, a.Analyze(ctx, ev))
		if i == len(events)-1 || a.cfg.BatchDelay == 0 {
			continue
		}
		timer := time.NewTimer(a.cfg.BatchDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
	return out
}

// Fallback returns the deterministic analysis for ev.
func Fallback(ev model.DomainEvent) Analysis {
	return Analysis{
		Summary: fmt.Sprintf("%s event occurred on %s", ev.EventName, ev.ContractName),
		Impact:  "This event may have implications for the protocol or your holdings",
		Recommendations: []string{
			"Monitor your portfolio",
			"Check for any related announcements",
			"Consider the market impact",
		},
		Urgency:             model.LevelMedium,
		UserFriendlyMessage: fmt.Sprintf("A %s event just happened on the %s contract. This could be important for your investments.", ev.EventName, ev.ContractName),
		Fallback:            true,
	}
}

type rawAnalysis struct {
	Summary             string   `json:"summary"`
	Impact              string   `json:"impact"`
	Recommendations     []string `json:"recommendations"`
	Urgency             string   `json:"urgency"`
	UserFriendlyMessage string   `json:"userFriendlyMessage"`
}

// parseAnalysis extracts the outermost JSON object from text. Missing text fields
// are taken from the fallback.
func parseAnalysis(text string, ev model.DomainEvent) (Analysis, string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Analysis{}, "no_json", fmt.Errorf("no json object in response")
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Analysis{}, "bad_json", fmt.Errorf("parse response: %w", err)
	}
	urgency, err := model.ParseLevel(raw.Urgency)
	if err != nil {
		return Analysis{}, "bad_urgency", err
	}

	fallback := Fallback(ev)
	analysis := Analysis{
		Summary:             firstNonEmpty(raw.Summary, fallback.Summary),
		Impact:              raw.Impact,
		Recommendations:     cleanList(raw.Recommendations),
		Urgency:             urgency,
		UserFriendlyMessage: firstNonEmpty(raw.UserFriendlyMessage, fallback.UserFriendlyMessage),
	}
	return analysis, "", nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
