package fraud

import (
	"context"
	"math"
	"sync"
	"time"
)

// RuleScorer is the built-in scorer: a weighted rule set over amount, hour
// of day and merchant category. Deterministic for a given transaction, so
// the same input always audits to the same decision.
type RuleScorer struct {
	mu      sync.RWMutex
	version string
	trained time.Time
}

func NewRuleScorer() *RuleScorer {
	return &RuleScorer{version: "rules-v1", trained: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

var riskyCategories = map[string]float64{
	"gambling":        0.30,
	"crypto_exchange": 0.30,
	"wire_transfer":   0.25,
	"gift_cards":      0.20,
}

func (s *RuleScorer) Score(_ context.Context, tx Transaction) (Prediction, error) {
	p := 0.05

	// Amount contributes logarithmically so a 10x larger transaction adds
	// a fixed increment rather than saturating immediately.
	if tx.Amount > 100 {
		p += math.Min(0.40, 0.10*math.Log10(tx.Amount/100))
	}
	if w, ok := riskyCategories[tx.MerchantCategory]; ok {
		p += w
	}
	hour := tx.Timestamp.UTC().Hour()
	if hour >= 1 && hour <= 5 {
		p += 0.15
	}
	if tx.DeviceID == "" {
		p += 0.10
	}
	p = math.Min(p, 0.99)

	s.mu.RLock()
	version := s.version
	s.mu.RUnlock()

	return Prediction{
		FraudProbability: math.Round(p*10000) / 10000,
		Label:            p >= fraudThreshold,
		Confidence:       math.Round(math.Abs(p-0.5)*2*10000) / 10000,
		RiskLevel:        riskLevel(p),
		ModelVersion:     version,
	}, nil
}

func (s *RuleScorer) ModelInfo() ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ModelInfo{Version: s.version, TrainedAt: s.trained, FraudThreshold: fraudThreshold}
}

// Retrain swaps in a new version marker. The training endpoint calls this;
// the rule weights themselves are static.
func (s *RuleScorer) Retrain(version string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	s.trained = at.UTC()
}

var _ Scorer = (*RuleScorer)(nil)
