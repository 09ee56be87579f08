package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bookshell/bookshell-backend/internal/logger"
	"github.com/bookshell/bookshell-backend/internal/models"
	"github.com/bookshell/bookshell-backend/internal/services/payment"
	"github.com/bookshell/bookshell-backend/internal/services/wallet"
)

type PaymentHandler struct {
	DB       *gorm.DB
	Payments *payment.PaymentService
	Wallets  *wallet.WalletService
}

func NewPaymentHandler(db *gorm.DB, payments *payment.PaymentService, wallets *wallet.WalletService) *PaymentHandler {
	return &PaymentHandler{DB: db, Payments: payments, Wallets: wallets}
}

func currentUserID(c *fiber.Ctx) (uuid.UUID, error) {
	raw := c.Locals("userId")
	if raw == nil {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	uid, err := uuid.Parse(raw.(string))
	if err != nil {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	return uid, nil
}

// respond translates the service result into the HTTP contract: domain
// failures are 400s carrying the error message, acceptance is a 200. The
// eventual terminal state reaches the client later via notification or
// status polling, not in this response.
func respond(c *fiber.Ctx, res *payment.Result, err error) error {
	if err != nil {
		logger.Error("payment operation failed", "err", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Internal error"})
	}
	if !res.Success {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": res.Error, "data": res})
	}
	return c.JSON(fiber.Map{"success": true, "data": res})
}

type MoneyRequest struct {
	Amount      int64                  `json:"amount"`
	Provider    models.PaymentProvider `json:"provider"`
	PhoneNumber string                 `json:"phone_number"`
}

func (h *PaymentHandler) Deposit(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}

	var req MoneyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request"})
	}

	res, err := h.Payments.ProcessDeposit(uid, req.Amount, req.Provider, req.PhoneNumber)
	return respond(c, res, err)
}

func (h *PaymentHandler) Withdraw(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}

	var req MoneyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request"})
	}

	res, err := h.Payments.ProcessWithdrawal(uid, req.Amount, req.Provider, req.PhoneNumber)
	return respond(c, res, err)
}

type PurchaseRequest struct {
	SellerID string `json:"seller_id"`
	Amount   int64  `json:"amount"`
	OrderID  string `json:"order_id"`
}

func (h *PaymentHandler) Purchase(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}

	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request"})
	}
	sellerID, err := uuid.Parse(req.SellerID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid seller_id"})
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid order_id"})
	}

	res, err := h.Payments.ProcessPurchase(uid, sellerID, req.Amount, orderID)
	return respond(c, res, err)
}

type SubscriptionRequest struct {
	Amount         int64  `json:"amount"`
	SubscriptionID string `json:"subscription_id"`
}

func (h *PaymentHandler) PaySubscription(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}

	var req SubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request"})
	}
	subID, err := uuid.Parse(req.SubscriptionID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid subscription_id"})
	}

	res, err := h.Payments.ProcessSubscription(uid, req.Amount, subID)
	return respond(c, res, err)
}

// GetWallet returns the caller's wallet, creating a zero-balance one on
// first access. Payment flows themselves never auto-create.
func (h *PaymentHandler) GetWallet(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}

	w, err := h.Wallets.GetOrCreate(h.DB, uid, h.Payments.Currency)
	if err != nil {
		logger.Error("wallet lookup failed", "user_id", uid, "err", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Internal error"})
	}
	return c.JSON(fiber.Map{"success": true, "data": w})
}

func (h *PaymentHandler) ListTransactions(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}

	var w models.Wallet
	if err := h.DB.First(&w, "user_id = ?", uid).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Wallet not found"})
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	var trxs []models.Transaction
	if err := h.DB.Where("wallet_id = ?", w.ID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&trxs).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Internal error"})
	}
	return c.JSON(fiber.Map{"success": true, "data": trxs})
}

func (h *PaymentHandler) CheckStatus(c *fiber.Ctx) error {
	if _, err := currentUserID(c); err != nil {
		return err
	}

	trxID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid transaction id"})
	}

	res, err := h.Payments.CheckPaymentStatus(trxID)
	return respond(c, res, err)
}

// Reconcile lets an operator trigger the stale-transaction sweep on demand.
func (h *PaymentHandler) Reconcile(c *fiber.Ctx) error {
	resolved := h.Payments.ReconcilePending(5 * time.Minute)
	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"resolved": resolved}})
}
