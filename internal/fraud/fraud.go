// Package fraud scores transactions. The HTTP layer only depends on the
// Scorer interface; the default implementation is a deterministic rule set
// that stands in for the trained model service.
package fraud

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Risk levels derived from the fraud probability.
const (
	RiskMinimal = "MINIMAL"
	RiskLow     = "LOW"
	RiskMedium  = "MEDIUM"
	RiskHigh    = "HIGH"
)

const (
	fraudThreshold    = 0.5
	highRiskThreshold = 0.8
	lowRiskThreshold  = 0.25
)

var ErrInvalidTransaction = errors.New("fraud: invalid transaction")

// Transaction is the scoring input.
type Transaction struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	MerchantCategory string    `json:"merchant_category"`
	DeviceID         string    `json:"device_id,omitempty"`
	IPAddress        string    `json:"ip_address,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Validate mirrors the ingestion rules: positive amount, ISO currency code,
// a merchant category, and no future timestamps.
func (t *Transaction) Validate(now time.Time) error {
	switch {
	case t.Amount < 0.01:
		return errors.Join(ErrInvalidTransaction, errors.New("amount must be at least 0.01"))
	case len(t.Currency) != 3 || t.Currency != strings.ToUpper(t.Currency):
		return errors.Join(ErrInvalidTransaction, errors.New("currency must be 3 uppercase letters"))
	case t.MerchantCategory == "":
		return errors.Join(ErrInvalidTransaction, errors.New("merchant_category is required"))
	case t.Timestamp.After(now):
		return errors.Join(ErrInvalidTransaction, errors.New("timestamp cannot be in the future"))
	}
	return nil
}

// Prediction is the scoring output.
type Prediction struct {
	FraudProbability float64 `json:"fraud_probability"`
	Label            bool    `json:"prediction_label"`
	Confidence       float64 `json:"confidence_score"`
	RiskLevel        string  `json:"risk_level"`
	ModelVersion     string  `json:"model_version"`
}

// Scorer produces a fraud prediction for one transaction.
type Scorer interface {
	Score(ctx context.Context, tx Transaction) (Prediction, error)
	ModelInfo() ModelInfo
}

// ModelInfo describes the active model.
type ModelInfo struct {
	Version        string    `json:"version"`
	TrainedAt      time.Time `json:"trained_at"`
	FraudThreshold float64   `json:"fraud_threshold"`
}

func riskLevel(p float64) string {
	switch {
	case p >= highRiskThreshold:
		return RiskHigh
	case p >= fraudThreshold:
		return RiskMedium
	case p >= lowRiskThreshold:
		return RiskLow
	default:
		return RiskMinimal
	}
}
