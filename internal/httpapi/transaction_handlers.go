package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fraudnet.ai/internal/audit"
	"fraudnet.ai/internal/auth"
	"fraudnet.ai/internal/fraud"
	"fraudnet.ai/internal/ids"
)

const bulkMaxItems = 500

type transactionRequest struct {
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	MerchantCategory string    `json:"merchant_category"`
	DeviceID         string    `json:"device_id,omitempty"`
	IPAddress        string    `json:"ip_address,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

func (req transactionRequest) toTransaction(userID string) fraud.Transaction {
	return fraud.Transaction{
		ID:               ids.New(),
		UserID:           userID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		MerchantCategory: req.MerchantCategory,
		DeviceID:         req.DeviceID,
		IPAddress:        req.IPAddress,
		Timestamp:        req.Timestamp,
	}
}

func (a *API) handleCreateTransaction(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return auditInfo{entityType: "transaction"}
	}
	tx := req.toTransaction(caller.UserID)
	if err := tx.Validate(time.Now().UTC()); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return auditInfo{entityType: "transaction"}
	}

	pred, err := a.scorer.Score(r.Context(), tx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "scoring failed")
		return auditInfo{entityType: "transaction", entityID: tx.ID}
	}
	scored := fraud.Scored{Transaction: tx, Prediction: pred, CreatedAt: time.Now().UTC()}
	if err := a.txs.Insert(r.Context(), scored); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return auditInfo{entityType: "transaction", entityID: tx.ID}
	}

	writeJSON(w, http.StatusCreated, scored)
	return auditInfo{
		entityType: "transaction",
		entityID:   tx.ID,
		changes: map[string]any{
			"amount":            tx.Amount,
			"currency":          tx.Currency,
			"fraud_probability": pred.FraudProbability,
			"risk_level":        pred.RiskLevel,
		},
	}
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return auditInfo{entityType: "transaction"}
		}
		limit = v
	}
	items, err := a.txs.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return auditInfo{entityType: "transaction"}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"as_of": time.Now().UTC(),
	})
	return auditInfo{entityType: "transaction", changes: map[string]any{"count": len(items)}}
}

type bulkRequest struct {
	Items []transactionRequest `json:"items"`
}

func (a *API) handleBulkTransactions(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	var req bulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return auditInfo{entityType: "transaction"}
	}
	if len(req.Items) == 0 {
		writeError(w, r, http.StatusBadRequest, "items are required")
		return auditInfo{entityType: "transaction"}
	}
	if len(req.Items) > bulkMaxItems {
		writeError(w, r, http.StatusBadRequest, "at most 500 items per request")
		return auditInfo{entityType: "transaction"}
	}

	now := time.Now().UTC()
	results := make([]fraud.Scored, 0, len(req.Items))
	for i, item := range req.Items {
		tx := item.toTransaction(caller.UserID)
		if err := tx.Validate(now); err != nil {
			writeError(w, r, http.StatusBadRequest, "item "+strconv.Itoa(i)+": "+err.Error())
			return auditInfo{entityType: "transaction"}
		}
		pred, err := a.scorer.Score(r.Context(), tx)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "scoring failed")
			return auditInfo{entityType: "transaction"}
		}
		results = append(results, fraud.Scored{Transaction: tx, Prediction: pred, CreatedAt: now})
	}
	for _, sc := range results {
		if err := a.txs.Insert(r.Context(), sc); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return auditInfo{entityType: "transaction"}
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{"items": results})
	return auditInfo{
		entityType: "transaction",
		changes:    map[string]any{"count": len(results)},
	}
}

func (a *API) handleModels(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	info := a.scorer.ModelInfo()
	writeJSON(w, http.StatusOK, map[string]any{"items": []fraud.ModelInfo{info}})
	return auditInfo{entityType: "model", entityID: info.Version}
}

func (a *API) handleTrain(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	trainable, ok := a.scorer.(interface {
		Retrain(version string, at time.Time)
	})
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "model training unavailable")
		return auditInfo{entityType: "model"}
	}
	now := time.Now().UTC()
	version := "rules-" + now.Format("20060102T150405")
	trainable.Retrain(version, now)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"version":    version,
		"trained_at": now,
	})
	return auditInfo{
		entityType: "model",
		entityID:   version,
		changes:    map[string]any{"trained_at": now.Format(time.RFC3339)},
	}
}

func (a *API) handleAuditVerify(w http.ResponseWriter, r *http.Request, caller auth.CallerContext) auditInfo {
	q := r.URL.Query()
	from, err := parseSeq(q.Get("from"), 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "from must be a positive integer")
		return auditInfo{entityType: "audit_chain"}
	}
	head, err := a.auditor.LastSeq(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log unavailable")
		return auditInfo{entityType: "audit_chain"}
	}
	if head == 0 {
		writeJSON(w, http.StatusOK, audit.Report{Intact: true})
		return auditInfo{entityType: "audit_chain"}
	}
	to, err := parseSeq(q.Get("to"), head)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "to must be a positive integer")
		return auditInfo{entityType: "audit_chain"}
	}
	if to < from {
		writeError(w, r, http.StatusBadRequest, "to must be >= from")
		return auditInfo{entityType: "audit_chain"}
	}

	report, err := a.auditor.VerifyChain(r.Context(), from, to)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log unavailable")
		return auditInfo{entityType: "audit_chain"}
	}
	writeJSON(w, http.StatusOK, report)
	return auditInfo{
		entityType: "audit_chain",
		changes:    map[string]any{"from": from, "to": to, "intact": report.Intact},
	}
}

func parseSeq(raw string, def uint64) (uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
