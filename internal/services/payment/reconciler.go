package payment

import (
	"time"

	"github.com/bookshell/bookshell-backend/internal/logger"
	"github.com/bookshell/bookshell-backend/internal/models"
)

// ReconcilePending polls the provider for every provider-backed transaction
// that has sat in PENDING longer than the grace period. Webhooks from mobile
// money operators get delayed or dropped; this sweep is the compensating
// path that eventually drives every accepted payment to a terminal state.
// Returns the number of transactions that reached a terminal state.
func (s *PaymentService) ReconcilePending(grace time.Duration) int {
	var stale []models.Transaction
	err := s.DB.
		Where("status = ? AND provider_ref IS NOT NULL AND provider IN ? AND created_at < ?",
			models.TransactionStatusPending,
			[]models.PaymentProvider{models.ProviderMTNMomo, models.ProviderMoovMoney},
			time.Now().Add(-grace)).
		Find(&stale).Error
	if err != nil {
		logger.Error("reconcile sweep query failed", "err", err)
		return 0
	}

	resolved := 0
	for _, trx := range stale {
		res, err := s.CheckPaymentStatus(trx.ID)
		if err != nil {
			logger.Error("reconcile poll failed", "transaction_id", trx.ID, "err", err)
			continue
		}
		if res.Success && res.Status.IsTerminal() {
			resolved++
			logger.Info("reconciled stale transaction", "transaction_id", trx.ID, "status", res.Status)
		}
	}

	if len(stale) > 0 {
		logger.Info("reconcile sweep done", "checked", len(stale), "resolved", resolved)
	}
	return resolved
}
