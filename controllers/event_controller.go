package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"phishgrid/models"
	"phishgrid/phishing"
	"phishgrid/utils"
)

// trackingPixel is a 1x1 transparent PNG served on the open-tracking route.
var trackingPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

// EventController handles every inbound interaction event: mail-dispatch
// callbacks, landing-worker callbacks and the target-facing tracking routes.
type EventController struct {
	correlator *phishing.EventCorrelator
	registry   *phishing.LandingRegistry
	logger     *log.Logger
}

func NewEventController(correlator *phishing.EventCorrelator, registry *phishing.LandingRegistry) *EventController {
	return &EventController{
		correlator: correlator,
		registry:   registry,
		logger:     log.New(log.Writer(), "[events] ", log.LstdFlags),
	}
}

type eventRequest struct {
	RefKey    string          `json:"ref_key" validate:"required"`
	RefID     string          `json:"ref_id" validate:"required"`
	EventType string          `json:"event_type" validate:"required"`
	Payload   json.RawMessage `json:"payload"`
}

type workerEventRequest struct {
	RefKey    string          `json:"ref_key" validate:"required"`
	RefID     string          `json:"ref_id" validate:"required"`
	EventType string          `json:"event_type" validate:"required"`
	Payload   json.RawMessage `json:"payload"`
}

// PostEvent ingests a mail-origin event (send/fail) from a dispatch
// collaborator, authenticated with the shared API key.
func (ec *EventController) PostEvent(c *fiber.Ctx) error {
	var req eventRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	kind, err := models.ParseEventKind(req.EventType)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown event type", nil)
	}
	payload, err := models.DecodeEventPayload(kind, req.Payload)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Payload does not match event type", nil)
	}

	accepted, err := ec.correlator.HandleEvent(req.RefKey, req.RefID, kind, payload, phishing.CallerMail)
	if err != nil {
		return ec.eventError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "accepted": accepted})
}

// WorkerEvent ingests a web-origin event from a landing-page worker and
// returns its rendering instruction: the landing HTML on click, the redirect
// target on submit, a bare acknowledgment otherwise.
func (ec *EventController) WorkerEvent(c *fiber.Ctx) error {
	var req workerEventRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	campaignKey, targetKey, ok := utils.SplitRef(req.RefKey + req.RefID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}

	kind, err := models.ParseEventKind(req.EventType)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown event type", nil)
	}
	payload, err := models.DecodeEventPayload(kind, req.Payload)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Payload does not match event type", nil)
	}

	task, found := ec.registry.Lookup(campaignKey, targetKey)
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}

	// Capture flags are enforced server-side before the event leaves this
	// process, whatever the worker sent.
	if sub, isSubmit := payload.(*models.SubmitPayload); isSubmit {
		sub.Fields = filterSubmitFields(sub.Fields, task.Payload)
	}

	if _, err := ec.correlator.HandleEvent(campaignKey, targetKey, kind, payload, phishing.CallerWeb); err != nil {
		return ec.eventError(c, err)
	}

	switch kind {
	case models.EventClick:
		return c.JSON(fiber.Map{"html": task.Payload.HTML})
	case models.EventSubmit:
		return c.JSON(fiber.Map{"redirect_url": task.Payload.RedirectURL})
	default:
		return c.JSON(fiber.Map{"success": true})
	}
}

// Lure serves the landing page for an in-process-hosted campaign. The visit
// is the click event.
func (ec *EventController) Lure(c *fiber.Ctx) error {
	campaignKey, targetKey, ok := utils.DecodeURLParams(string(c.Request().URI().QueryString()))
	if !ok {
		return c.SendStatus(fiber.StatusNotFound)
	}

	task, found := ec.registry.Lookup(campaignKey, targetKey)
	if !found {
		return c.SendStatus(fiber.StatusNotFound)
	}

	// Repeat visits still get the page; only the first click is recorded.
	if _, err := ec.correlator.HandleEvent(campaignKey, targetKey, models.EventClick, &models.ClickPayload{
		UserAgent: c.Get(fiber.HeaderUserAgent),
		IP:        c.IP(),
	}, phishing.CallerWeb); err != nil {
		ec.logger.Printf("click for %s/%s not recorded: %v", campaignKey, targetKey, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(task.Payload.HTML)
}

// LureSubmit accepts the landing form post, records the submit event with
// capture-flag-filtered fields and bounces the target to the redirect URL.
func (ec *EventController) LureSubmit(c *fiber.Ctx) error {
	campaignKey, targetKey, ok := utils.DecodeURLParams(string(c.Request().URI().QueryString()))
	if !ok {
		return c.SendStatus(fiber.StatusNotFound)
	}

	task, found := ec.registry.Lookup(campaignKey, targetKey)
	if !found {
		return c.SendStatus(fiber.StatusNotFound)
	}

	fields := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		fields[string(key)] = string(value)
	})
	fields = filterSubmitFields(fields, task.Payload)

	if _, err := ec.correlator.HandleEvent(campaignKey, targetKey, models.EventSubmit, &models.SubmitPayload{
		Fields: fields,
	}, phishing.CallerWeb); err != nil {
		ec.logger.Printf("submit for %s/%s not recorded: %v", campaignKey, targetKey, err)
	}

	if task.Payload.RedirectURL == "" {
		return c.SendStatus(fiber.StatusOK)
	}
	return c.Redirect(task.Payload.RedirectURL, fiber.StatusSeeOther)
}

// Pixel serves the open-tracking pixel. The image comes back for every
// request, correlated or not, so a scanner fetching the URL learns nothing
// from the response.
func (ec *EventController) Pixel(c *fiber.Ctx) error {
	if campaignKey, targetKey, ok := utils.DecodeURLParams(string(c.Request().URI().QueryString())); ok {
		if _, err := ec.correlator.HandleEvent(campaignKey, targetKey, models.EventOpen, &models.OpenPayload{
			UserAgent: c.Get(fiber.HeaderUserAgent),
			IP:        c.IP(),
		}, phishing.CallerWeb); err != nil && !errors.Is(err, phishing.ErrNoMatch) {
			ec.logger.Printf("open for %s/%s not recorded: %v", campaignKey, targetKey, err)
		}
	}

	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	return c.Send(trackingPixel)
}

// RobotsTxt keeps crawlers off the tracking routes.
func (ec *EventController) RobotsTxt(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString("User-agent: *\nDisallow: /\n")
}

func (ec *EventController) eventError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, phishing.ErrOriginMismatch):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Event type not allowed for this caller", nil)
	case errors.Is(err, phishing.ErrNoMatch):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record event", err)
	}
}

// filterSubmitFields drops captured form data the campaign is not configured
// to keep. With capture disabled only the field names survive, as proof of
// submission without the values.
func filterSubmitFields(fields map[string]string, payload models.LandingPayload) map[string]string {
	filtered := make(map[string]string, len(fields))
	for name, value := range fields {
		switch {
		case !payload.CaptureCredentials:
			filtered[name] = ""
		case !payload.CapturePasswords && strings.Contains(strings.ToLower(name), "pass"):
			filtered[name] = ""
		default:
			filtered[name] = value
		}
	}
	return filtered
}
