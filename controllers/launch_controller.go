package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"phishgrid/models"
	"phishgrid/phishing"
	"phishgrid/templates"
	"phishgrid/utils"
)

// LaunchController handles campaign lifecycle requests from the operator
// console.
type LaunchController struct {
	coordinator *phishing.Coordinator
	logger      *log.Logger
}

func NewLaunchController(coordinator *phishing.Coordinator) *LaunchController {
	return &LaunchController{
		coordinator: coordinator,
		logger:      log.New(log.Writer(), "[launch] ", log.LstdFlags),
	}
}

type launchRequest struct {
	Campaign models.Campaign    `json:"campaign" validate:"required"`
	Targets  []models.Target    `json:"targets" validate:"required,min=1,dive"`
	SMTP     models.MailProfile `json:"smtp" validate:"required"`
	Auth     models.Owner       `json:"auth" validate:"required"`

	// ValidateMX additionally resolves each target domain's MX records
	// before launch. Off by default; it costs one DNS lookup per domain.
	ValidateMX bool `json:"validate_mx"`
}

type completeRequest struct {
	CampaignID int `json:"campaign_id" validate:"required,gt=0"`
}

// Launch starts a campaign: mints correlation keys, fetches the template
// bundle, registers the landing task and kicks off the paced dispatch run.
func (lc *LaunchController) Launch(c *fiber.Ctx) error {
	var req launchRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if req.ValidateMX {
		for _, target := range req.Targets {
			ok, err := utils.ValidateMXRecords(target.Email)
			if err != nil || !ok {
				return utils.ErrorResponse(c, fiber.StatusBadRequest, "Target domain cannot receive mail: "+target.Email, err)
			}
		}
	}

	result, err := lc.coordinator.Launch(req.Campaign, req.Targets, req.SMTP, req.Auth)
	if err != nil {
		lc.logger.Printf("launch of campaign %d failed: %v", req.Campaign.ID, err)
		switch {
		case errors.Is(err, phishing.ErrNoTargets):
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Campaign has no targets", nil)
		case errors.Is(err, phishing.ErrAlreadyLaunched):
			return utils.ErrorResponse(c, fiber.StatusConflict, "Campaign is already running", nil)
		case errors.Is(err, templates.ErrNotFound):
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
		case errors.Is(err, templates.ErrIncomplete):
			return utils.ErrorResponse(c, fiber.StatusNotAcceptable, "Template is incomplete", nil)
		case errors.Is(err, phishing.ErrDispatchBusy):
			return utils.ErrorResponse(c, fiber.StatusTooManyRequests, "Dispatch capacity exhausted, try again later", nil)
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to launch campaign", err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(result))
}

// Complete stops a running campaign: cancels remaining sends, retires the
// landing task and writes the campaign-level marker event. Completing a
// campaign that is unknown or already stopped succeeds the same way.
func (lc *LaunchController) Complete(c *fiber.Ctx) error {
	var req completeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	lc.coordinator.StopByID(req.CampaignID)
	return c.JSON(fiber.Map{"success": true})
}
