package controllers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"phishgrid/models"
	"phishgrid/phishing"
)

// progressInterval is how often a live dispatch run pushes its counters.
const progressInterval = 1 * time.Second

// ProgressController streams live dispatch progress to the operator console
// over a websocket.
type ProgressController struct {
	coordinator *phishing.Coordinator
	jobs        *phishing.JobTable
	logger      *log.Logger
}

func NewProgressController(coordinator *phishing.Coordinator, jobs *phishing.JobTable) *ProgressController {
	return &ProgressController{
		coordinator: coordinator,
		jobs:        jobs,
		logger:      log.New(log.Writer(), "[progress] ", log.LstdFlags),
	}
}

type progressFrame struct {
	RefKey   string                `json:"ref_key"`
	Campaign models.CampaignStatus `json:"campaign_status"`
	Job      models.JobStatus      `json:"job_status"`
	Sent     int                   `json:"sent"`
	Failed   int                   `json:"failed"`
	Final    bool                  `json:"final"`
}

// Upgrade gates the route to real websocket upgrade requests.
func (pc *ProgressController) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream pushes one frame per interval until the dispatch run reaches a
// terminal state, then a final frame and closes.
func (pc *ProgressController) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		refKey := conn.Params("ref")
		job, running := pc.jobs.Get(refKey)
		if !running {
			// No live job: one snapshot frame, terminal from the start.
			status, known := pc.coordinator.Status(refKey)
			if !known {
				_ = conn.WriteJSON(fiber.Map{"error": "Not found"})
				return
			}
			_ = conn.WriteJSON(progressFrame{RefKey: refKey, Campaign: status, Final: true})
			return
		}

		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-job.Done():
				_ = conn.WriteJSON(pc.frame(refKey, job, true))
				return
			case <-ticker.C:
				if err := conn.WriteJSON(pc.frame(refKey, job, false)); err != nil {
					return
				}
			}
		}
	})
}

func (pc *ProgressController) frame(refKey string, job *phishing.DispatchJob, final bool) progressFrame {
	sent, failed := job.Counters()
	campaign, _ := pc.coordinator.Status(refKey)
	return progressFrame{
		RefKey:   refKey,
		Campaign: campaign,
		Job:      job.Status(),
		Sent:     sent,
		Failed:   failed,
		Final:    final,
	}
}
