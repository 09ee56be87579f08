package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/bookshell/bookshell-backend/internal/logger"
	"github.com/bookshell/bookshell-backend/internal/services/payment"
)

// WebhookHandler is the thin ingress for provider callbacks. Its only job is
// shape validation and authentication; status vocabulary and balance effects
// belong to the payment service.
type WebhookHandler struct {
	DB            *gorm.DB
	Payments      *payment.PaymentService
	MomoToken     string
	MoovSecretKey string
}

func NewWebhookHandler(db *gorm.DB, payments *payment.PaymentService, momoToken, moovSecretKey string) *WebhookHandler {
	return &WebhookHandler{DB: db, Payments: payments, MomoToken: momoToken, MoovSecretKey: moovSecretKey}
}

type MomoWebhookPayload struct {
	ReferenceID            string `json:"referenceId"`
	ExternalID             string `json:"externalId"`
	Status                 string `json:"status"`
	FinancialTransactionID string `json:"financialTransactionId"`
	Reason                 string `json:"reason"`
}

// HandleMomo ingests MTN MoMo callbacks, gated by the shared callback token
// configured on the provider portal.
func (h *WebhookHandler) HandleMomo(c *fiber.Ctx) error {
	if h.MomoToken != "" && c.Get("X-Callback-Token") != h.MomoToken {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Invalid callback token"})
	}

	var payload MomoWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid payload"})
	}
	if payload.ReferenceID == "" || payload.Status == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Missing referenceId or status"})
	}

	found, err := h.Payments.HandleWebhook(payload.ReferenceID, payload.Status, c.Body())
	if err != nil {
		logger.Error("momo webhook processing failed", "reference_id", payload.ReferenceID, "err", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Internal error"})
	}
	if !found {
		// acknowledged so the provider stops retrying a callback we can
		// never resolve; the warn log is the monitoring signal
		return c.JSON(fiber.Map{"success": true, "message": "Unknown reference, ignored"})
	}
	return c.JSON(fiber.Map{"success": true})
}

type MoovWebhookPayload struct {
	ReferenceID   string `json:"referenceId"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// HandleMoov ingests Moov Money callbacks. Moov signs the raw body with
// HMAC-SHA256 over the shared secret.
func (h *WebhookHandler) HandleMoov(c *fiber.Ctx) error {
	signature := c.Get("X-Callback-Signature")
	if signature == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Missing signature"})
	}

	body := c.Body()
	if !h.validMoovSignature(signature, body) {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid signature"})
	}

	var payload MoovWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid payload"})
	}
	if payload.ReferenceID == "" || payload.Status == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Missing referenceId or status"})
	}

	found, err := h.Payments.HandleWebhook(payload.ReferenceID, payload.Status, body)
	if err != nil {
		logger.Error("moov webhook processing failed", "reference_id", payload.ReferenceID, "err", err)
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Internal error"})
	}
	if !found {
		return c.JSON(fiber.Map{"success": true, "message": "Unknown reference, ignored"})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *WebhookHandler) validMoovSignature(incomingSig string, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(h.MoovSecretKey))
	mac.Write(body)
	calculated := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(calculated), []byte(incomingSig))
}
