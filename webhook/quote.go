package webhook

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vitwit/onramp/metrics"
	"github.com/vitwit/onramp/types"
	"github.com/vitwit/onramp/utils"
)

type quoteResponse struct {
	BuyerAddress string `json:"buyerAddress"`
	types.Quote
}

func (s *Server) handleQuote(c *fiber.Ctx) error {
	var req types.QuoteRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid JSON payload",
			"details": []string{err.Error()},
		})
	}

	// limited per wallet so one buyer cannot hammer the price sources
	wallet := utils.NormalizeAddress(req.BuyerAddress)
	if wallet != "" && !s.allow(c, "quote:"+wallet) {
		s.metrics.IncCounter(metrics.EventRateLimited, nil)
		return c.Status(fiber.StatusTooManyRequests).JSON(errorBody("too many requests"))
	}

	usd, errs := s.validator.ValidateQuote(&req)
	if len(errs) > 0 {
		details := make([]string, 0, len(errs))
		for _, e := range errs {
			details = append(details, e.String())
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation failed",
			"details": details,
		})
	}

	q, err := s.quoter.Quote(c.UserContext(), usd)
	if err != nil {
		s.log.Warn("quote unavailable", map[string]any{"buyer": wallet, "error": err})
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorBody("pricing unavailable"))
	}

	return c.JSON(quoteResponse{BuyerAddress: strings.TrimSpace(req.BuyerAddress), Quote: q})
}
