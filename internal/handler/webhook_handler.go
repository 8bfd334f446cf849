package handler

import (
	"context"
	"crypto/subtle"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/outboundlab/sequencer/internal/domain"
	"github.com/outboundlab/sequencer/internal/template"
	"go.uber.org/zap"
)

// EventSink receives engagement signals from tracking pixels, click
// redirects, and provider webhooks.
type EventSink interface {
	RecordOpen(ctx context.Context, itemID string, meta domain.EventMetadata) error
	RecordClick(ctx context.Context, itemID string, meta domain.EventMetadata) error
	HandleReply(ctx context.Context, campaignID, leadEmail string, meta domain.EventMetadata) error
	HandleBounce(ctx context.Context, campaignID, leadEmail string, class domain.BounceClass, meta domain.EventMetadata) error
	HandleUnsubscribe(ctx context.Context, campaignID, leadEmail string, meta domain.EventMetadata) error
}

type WebhookHandler struct {
	sink   EventSink
	logger *zap.Logger
}

// openPixel is a 1x1 transparent GIF served from the open endpoint.
var openPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func RegisterWebhookRoutes(router fiber.Router, sink EventSink, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WebhookHandler{sink: sink, logger: logger}

	router.Get("/track/open/:itemId/:token", h.TrackOpen)
	router.Get("/track/click/:itemId/:token", h.TrackClick)

	v1 := router.Group("/v1")
	v1.Post("/webhooks/reply", h.ReplyWebhook)
	v1.Post("/webhooks/bounce", h.BounceWebhook)
	v1.Post("/webhooks/unsubscribe", h.UnsubscribeWebhook)
}

// TrackOpen records an open and always answers with the pixel, even when the
// item lookup fails. Mail clients retry broken images and we never want a
// recipient-visible error.
func (h *WebhookHandler) TrackOpen(c *fiber.Ctx) error {
	itemID := c.Params("itemId")
	if validTrackingToken(itemID, c.Params("token")) {
		if err := h.sink.RecordOpen(c.Context(), itemID, requestMetadata(c)); err != nil {
			h.logger.Warn("failed to record open", zap.String("itemId", itemID), zap.Error(err))
		}
	}

	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store, max-age=0")
	return c.Status(fiber.StatusOK).Send(openPixel)
}

// TrackClick records a click and redirects to the original destination. A
// missing or unsafe destination gets a 400 instead of an open redirect.
func (h *WebhookHandler) TrackClick(c *fiber.Ctx) error {
	target := c.Query("url")
	if !safeRedirectURL(target) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid redirect url")
	}

	itemID := c.Params("itemId")
	if validTrackingToken(itemID, c.Params("token")) {
		meta := requestMetadata(c)
		meta.URL = target
		if err := h.sink.RecordClick(c.Context(), itemID, meta); err != nil {
			h.logger.Warn("failed to record click", zap.String("itemId", itemID), zap.Error(err))
		}
	}

	return c.Redirect(target, fiber.StatusFound)
}

type replyWebhookRequest struct {
	CampaignID string `json:"campaignId"`
	Email      string `json:"email"`
	MessageID  string `json:"messageId"`
}

func (h *WebhookHandler) ReplyWebhook(c *fiber.Ctx) error {
	var req replyWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.CampaignID == "" || req.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "campaignId and email are required")
	}

	meta := requestMetadata(c)
	meta.MessageID = req.MessageID
	if err := h.sink.HandleReply(c.Context(), req.CampaignID, req.Email, meta); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type bounceWebhookRequest struct {
	CampaignID  string `json:"campaignId"`
	Email       string `json:"email"`
	BounceClass string `json:"bounceClass"`
	MessageID   string `json:"messageId"`
}

func (h *WebhookHandler) BounceWebhook(c *fiber.Ctx) error {
	var req bounceWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.CampaignID == "" || req.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "campaignId and email are required")
	}

	class, err := domain.ParseBounceClass(req.BounceClass)
	if err != nil {
		return toHTTPError(err)
	}

	meta := requestMetadata(c)
	meta.MessageID = req.MessageID
	if err := h.sink.HandleBounce(c.Context(), req.CampaignID, req.Email, class, meta); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type unsubscribeWebhookRequest struct {
	CampaignID string `json:"campaignId"`
	Email      string `json:"email"`
}

func (h *WebhookHandler) UnsubscribeWebhook(c *fiber.Ctx) error {
	var req unsubscribeWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.CampaignID == "" || req.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "campaignId and email are required")
	}

	if err := h.sink.HandleUnsubscribe(c.Context(), req.CampaignID, req.Email, requestMetadata(c)); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func requestMetadata(c *fiber.Ctx) domain.EventMetadata {
	return domain.EventMetadata{
		UserAgent: c.Get(fiber.HeaderUserAgent),
		IPAddress: c.IP(),
	}
}

func validTrackingToken(itemID, token string) bool {
	expected := template.Token(itemID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

func safeRedirectURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
