package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/outboundlab/sequencer/internal/analytics"
	"github.com/outboundlab/sequencer/internal/domain"
	"github.com/outboundlab/sequencer/internal/repository"
	"github.com/outboundlab/sequencer/internal/service"
)

type CampaignService interface {
	CreateCampaign(ctx context.Context, campaign *domain.Campaign, steps []domain.SequenceStep) (*domain.Campaign, error)
	StartCampaign(ctx context.Context, id string) error
	PauseCampaign(ctx context.Context, id string) error
	ResumeCampaign(ctx context.Context, id string) error
	ArchiveCampaign(ctx context.Context, id string) error
	EnrollLeads(ctx context.Context, campaignID string, leadIDs []string) (*service.EnrollmentResult, error)
}

type StatsProvider interface {
	CampaignStats(ctx context.Context, campaignID string) (*analytics.CampaignStats, error)
}

type CampaignHandler struct {
	service   CampaignService
	stats     StatsProvider
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	events    repository.EventRepository
}

func NewCampaignHandler(svc CampaignService, stats StatsProvider, campaigns repository.CampaignRepository, leads repository.LeadRepository, events repository.EventRepository) (*CampaignHandler, error) {
	if svc == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	if stats == nil {
		return nil, fmt.Errorf("stats provider is required")
	}
	return &CampaignHandler{service: svc, stats: stats, campaigns: campaigns, leads: leads, events: events}, nil
}

func RegisterCampaignRoutes(router fiber.Router, svc CampaignService, stats StatsProvider, campaigns repository.CampaignRepository, leads repository.LeadRepository, events repository.EventRepository) error {
	h, err := NewCampaignHandler(svc, stats, campaigns, leads, events)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Get("/campaigns/:id/stats", h.GetCampaignStats)
	v1.Get("/campaigns/:id/events", h.ListCampaignEvents)
	v1.Post("/campaigns/:id/start", h.StartCampaign)
	v1.Post("/campaigns/:id/pause", h.PauseCampaign)
	v1.Post("/campaigns/:id/resume", h.ResumeCampaign)
	v1.Post("/campaigns/:id/archive", h.ArchiveCampaign)
	v1.Post("/campaigns/:id/enroll", h.EnrollLeads)
	v1.Post("/leads", h.CreateLead)

	return nil
}

type createStepRequest struct {
	SequenceNumber  int    `json:"sequenceNumber"`
	SubjectTemplate string `json:"subjectTemplate"`
	BodyTemplate    string `json:"bodyTemplate"`
	DelayDays       int    `json:"delayDays"`
	DelayHours      int    `json:"delayHours"`
	Condition       string `json:"condition"`
	AIPersonalized  bool   `json:"aiPersonalized"`
}

type createCampaignRequest struct {
	Name        string `json:"name"`
	FromAddress string `json:"fromAddress"`
	DailyLimit  int    `json:"dailyLimit"`
	Timezone    string `json:"timezone"`
	// Pointer so an omitted field is distinguishable from an explicit
	// false; replies hard-stop the sequence unless the caller opts out.
	StopOnReply *bool               `json:"stopOnReply"`
	TrackOpens  bool                `json:"trackOpens"`
	TrackClicks bool                `json:"trackClicks"`
	Steps       []createStepRequest `json:"steps"`
}

type campaignResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	FromAddress string     `json:"fromAddress"`
	DailyLimit  int        `json:"dailyLimit"`
	Timezone    string     `json:"timezone,omitempty"`
	StopOnReply bool       `json:"stopOnReply"`
	TrackOpens  bool       `json:"trackOpens"`
	TrackClicks bool       `json:"trackClicks"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	stopOnReply := true
	if req.StopOnReply != nil {
		stopOnReply = *req.StopOnReply
	}

	campaign := &domain.Campaign{
		Name:        req.Name,
		FromAddress: req.FromAddress,
		DailyLimit:  req.DailyLimit,
		Timezone:    req.Timezone,
		StopOnReply: stopOnReply,
		TrackOpens:  req.TrackOpens,
		TrackClicks: req.TrackClicks,
	}

	steps := make([]domain.SequenceStep, 0, len(req.Steps))
	for _, s := range req.Steps {
		condition := domain.ConditionAlways
		if s.Condition != "" {
			parsed, err := domain.ParseConditionType(s.Condition)
			if err != nil {
				return toHTTPError(err)
			}
			condition = parsed
		}
		steps = append(steps, domain.SequenceStep{
			SequenceNumber:  s.SequenceNumber,
			SubjectTemplate: s.SubjectTemplate,
			BodyTemplate:    s.BodyTemplate,
			DelayDays:       s.DelayDays,
			DelayHours:      s.DelayHours,
			Condition:       condition,
			AIPersonalized:  s.AIPersonalized,
		})
	}

	created, err := h.service.CreateCampaign(c.Context(), campaign, steps)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(created))
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	campaign, err := h.campaigns.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) GetCampaignStats(c *fiber.Ctx) error {
	stats, err := h.stats.CampaignStats(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(stats)
}

type eventResponse struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"leadId"`
	StepID    string    `json:"stepId,omitempty"`
	Type      string    `json:"type"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListCampaignEvents returns the raw engagement log for a campaign, oldest
// first. The campaign is loaded first so an unknown ID is a 404 rather than
// an empty list.
func (h *CampaignHandler) ListCampaignEvents(c *fiber.Ctx) error {
	campaign, err := h.campaigns.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	events, err := h.events.ListByCampaign(c.Context(), campaign.ID)
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]eventResponse, 0, len(events))
	for i := range events {
		out = append(out, eventResponse{
			ID:        events[i].ID,
			LeadID:    events[i].LeadID,
			StepID:    events[i].StepID,
			Type:      events[i].Type.String(),
			URL:       events[i].Metadata.URL,
			CreatedAt: events[i].CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"events": out})
}

func (h *CampaignHandler) StartCampaign(c *fiber.Ctx) error {
	if err := h.service.StartCampaign(c.Context(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	if err := h.service.PauseCampaign(c.Context(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	if err := h.service.ResumeCampaign(c.Context(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) ArchiveCampaign(c *fiber.Ctx) error {
	if err := h.service.ArchiveCampaign(c.Context(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type enrollRequest struct {
	LeadIDs []string `json:"leadIds"`
}

func (h *CampaignHandler) EnrollLeads(c *fiber.Ctx) error {
	var req enrollRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.LeadIDs) == 0 {
		return toHTTPError(fmt.Errorf("%w: leadIds is required", domain.ErrValidation))
	}

	result, err := h.service.EnrollLeads(c.Context(), c.Params("id"), req.LeadIDs)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

type createLeadRequest struct {
	Email      string            `json:"email"`
	Attributes map[string]string `json:"attributes"`
}

func (h *CampaignHandler) CreateLead(c *fiber.Ctx) error {
	var req createLeadRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	lead := &domain.Lead{
		ID:         uuid.NewString(),
		Email:      req.Email,
		Attributes: req.Attributes,
	}
	if err := lead.Validate(); err != nil {
		return toHTTPError(err)
	}
	if err := h.leads.Create(c.Context(), lead); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    lead.ID,
		"email": lead.Email,
	})
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:          c.ID,
		Name:        c.Name,
		Status:      c.Status.String(),
		FromAddress: c.FromAddress,
		DailyLimit:  c.DailyLimit,
		Timezone:    c.Timezone,
		StopOnReply: c.StopOnReply,
		TrackOpens:  c.TrackOpens,
		TrackClicks: c.TrackClicks,
		StartedAt:   c.StartedAt,
		CreatedAt:   c.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
