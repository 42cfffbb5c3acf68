package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vitwit/onramp/metrics"
	"github.com/vitwit/onramp/types"
	"github.com/vitwit/onramp/utils"
	"github.com/vitwit/onramp/verification"
)

func errorBody(msg string) fiber.Map {
	return fiber.Map{"error": msg}
}

// allow applies the shared limiter. Store failures let the request through:
// the limiter is abuse control, not an authentication boundary.
func (s *Server) allow(c *fiber.Ctx, identifier string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(c.UserContext(), identifier)
	if err != nil {
		s.log.Warn("rate limiter unavailable", map[string]any{"identifier": identifier, "error": err})
		return true
	}
	return ok
}

func (s *Server) handlePayment(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		c.Set(fiber.HeaderAllow, fiber.MethodPost)
		return c.Status(fiber.StatusMethodNotAllowed).JSON(errorBody("method not allowed"))
	}
	s.metrics.IncCounter(metrics.EventWebhookReceived, nil)

	raw := c.Request().Body()
	ip := c.IP()
	if key := paymentRateKey(raw, ip); !s.allow(c, key) {
		s.metrics.IncCounter(metrics.EventRateLimited, nil)
		s.log.Warn("webhook rate limited", map[string]any{"ip": ip, "key": key})
		return c.Status(fiber.StatusTooManyRequests).JSON(errorBody("too many requests"))
	}

	// signature is computed over the exact bytes received
	if !verification.VerifySignature(raw, c.Get(s.cfg.SignatureHeader), s.cfg.Secret.Bytes()) {
		s.metrics.IncCounter(metrics.EventSignatureRejected, nil)
		s.log.Warn("webhook signature rejected", map[string]any{"ip": ip})
		return c.Status(fiber.StatusUnauthorized).JSON(errorBody("invalid signature"))
	}

	var payload types.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.metrics.IncCounter(metrics.EventValidationFailed, nil)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid JSON payload",
			"details": []string{err.Error()},
		})
	}

	res := s.validator.Validate(payload.PaymentData)
	if !res.OK {
		s.metrics.IncCounter(metrics.EventValidationFailed, nil)
		s.log.Info("payment validation failed", map[string]any{"details": strings.Join(res.Details(), "; ")})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation failed",
			"details": res.Details(),
		})
	}

	event := res.Event
	if !event.IsCompleted() {
		s.log.Info("payment not completed, nothing to settle", map[string]any{
			"paymentTxHash": event.PaymentTxHash,
			"status":        string(event.PaymentStatus),
		})
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": fmt.Sprintf("payment status %s acknowledged", event.PaymentStatus),
		})
	}

	result, err := s.settler.Settle(c.UserContext(), event)
	if err != nil {
		if types.IsCode(err, types.ErrSettlementInProgress) {
			return c.Status(fiber.StatusConflict).JSON(errorBody("settlement in progress"))
		}
		s.log.Error("settlement failed", map[string]any{"paymentTxHash": event.PaymentTxHash, "error": err})
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("settlement failed"))
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// paymentRateKey picks the limiter identifier for a delivery. All deliveries
// arrive from the processor's few addresses, so the buyer wallet named in the
// body is the key; the caller IP is used when the body names none.
func paymentRateKey(raw []byte, ip string) string {
	var peek struct {
		PaymentData struct {
			BuyerAddress string `json:"buyerAddress"`
		} `json:"paymentData"`
	}
	if json.Unmarshal(raw, &peek) == nil {
		if wallet := utils.NormalizeAddress(peek.PaymentData.BuyerAddress); wallet != "" {
			return "webhook:" + wallet
		}
	}
	return "webhook:" + ip
}
