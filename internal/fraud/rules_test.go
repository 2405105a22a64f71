package fraud

import (
	"context"
	"testing"
	"time"
)

func TestScoreIsDeterministic(t *testing.T) {
	s := NewRuleScorer()
	tx := Transaction{
		ID:               "tx-1",
		UserID:           "u-1",
		Amount:           2000000,
		Currency:         "USD",
		MerchantCategory: "gambling",
		Timestamp:        time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC),
	}

	first, err := s.Score(context.Background(), tx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Score(context.Background(), tx)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("same input scored differently: %+v vs %+v", first, second)
	}
	if first.RiskLevel != RiskHigh {
		t.Fatalf("risk = %s, want %s (p=%v)", first.RiskLevel, RiskHigh, first.FraudProbability)
	}
	if !first.Label {
		t.Fatal("high-probability transaction not labeled fraud")
	}
}

func TestScoreOrdinaryTransactionIsLowRisk(t *testing.T) {
	s := NewRuleScorer()
	tx := Transaction{
		Amount:           40,
		Currency:         "EUR",
		MerchantCategory: "groceries",
		DeviceID:         "dev-1",
		Timestamp:        time.Date(2026, 2, 1, 14, 0, 0, 0, time.UTC),
	}
	p, err := s.Score(context.Background(), tx)
	if err != nil {
		t.Fatal(err)
	}
	if p.RiskLevel != RiskMinimal {
		t.Fatalf("risk = %s, want %s (p=%v)", p.RiskLevel, RiskMinimal, p.FraudProbability)
	}
	if p.Label {
		t.Fatal("ordinary transaction labeled fraud")
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	valid := Transaction{Amount: 10, Currency: "USD", MerchantCategory: "retail", Timestamp: now.Add(-time.Hour)}

	cases := []struct {
		name   string
		mutate func(*Transaction)
		ok     bool
	}{
		{"valid", func(*Transaction) {}, true},
		{"zero amount", func(tx *Transaction) { tx.Amount = 0 }, false},
		{"lowercase currency", func(tx *Transaction) { tx.Currency = "usd" }, false},
		{"short currency", func(tx *Transaction) { tx.Currency = "US" }, false},
		{"missing category", func(tx *Transaction) { tx.MerchantCategory = "" }, false},
		{"future timestamp", func(tx *Transaction) { tx.Timestamp = now.Add(time.Minute) }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := valid
			tc.mutate(&tx)
			err := tx.Validate(now)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRetrainSwapsVersion(t *testing.T) {
	s := NewRuleScorer()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Retrain("rules-v2", at)

	info := s.ModelInfo()
	if info.Version != "rules-v2" {
		t.Fatalf("version = %s", info.Version)
	}
	if !info.TrainedAt.Equal(at) {
		t.Fatalf("trained_at = %v", info.TrainedAt)
	}
}
