package controllers

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"phishgrid/config"
	"phishgrid/models"
	"phishgrid/utils"
)

// WorkerController runs health checks against registered landing-page worker
// instances. Worker rows themselves are seeded out of band; there is no CRUD
// surface for them here.
type WorkerController struct {
	logger *log.Logger
	client *fasthttp.Client
}

func NewWorkerController() *WorkerController {
	return &WorkerController{
		logger: log.New(log.Writer(), "[workers] ", log.LstdFlags),
		client: &fasthttp.Client{},
	}
}

type workerCheckResult struct {
	WorkerID   uint       `json:"worker_id"`
	Online     bool       `json:"online"`
	Whois      string     `json:"whois,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at"`
}

// CheckWorker pings one worker with a freshly-minted trust token and
// summarizes the registration state of its landing domain.
func (wc *WorkerController) CheckWorker(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid worker id", nil)
	}

	var worker models.PhishsiteWorker
	if err := config.DB.First(&worker, id).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Worker not found", nil)
	}

	secret, err := utils.Decrypt(worker.SecretKey)
	if err != nil || secret == "" {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read worker secret", err)
	}

	token, err := utils.IssueTrustToken(fmt.Sprint(worker.ID), []byte(secret), config.AppConfig.TrustTokenTTL)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to issue trust token", err)
	}

	online := wc.ping(worker.URI, token)
	if online {
		now := time.Now()
		worker.LastSeenAt = &now
		if err := config.DB.Model(&worker).Update("last_seen_at", now).Error; err != nil {
			wc.logger.Printf("failed to update last_seen_at for worker %d: %v", worker.ID, err)
		}
	}

	summary, err := utils.WhoisSummary(worker.URI)
	if err != nil {
		wc.logger.Printf("whois lookup for worker %d failed: %v", worker.ID, err)
	}

	return c.JSON(utils.SuccessResponse(workerCheckResult{
		WorkerID:   worker.ID,
		Online:     online,
		Whois:      summary,
		LastSeenAt: worker.LastSeenAt,
	}))
}

func (wc *WorkerController) ping(uri, token string) bool {
	body, err := json.Marshal(fiber.Map{"ref_key": token, "ping": true})
	if err != nil {
		return false
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri + "/ping")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := wc.client.DoTimeout(req, resp, config.AppConfig.CollaboratorTimeout); err != nil {
		return false
	}
	return resp.StatusCode() == fasthttp.StatusOK
}
