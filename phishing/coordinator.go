package phishing

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/badoux/checkmail"

	"phishgrid/models"
	"phishgrid/templates"
	"phishgrid/utils"
)

var (
	// ErrNoTargets rejects a launch with an empty target list.
	ErrNoTargets = errors.New("campaign has no targets")

	// ErrAlreadyLaunched rejects launching a campaign id that is already
	// running.
	ErrAlreadyLaunched = errors.New("campaign is already running")
)

// TemplateFetcher is the template-rendering collaborator boundary.
type TemplateFetcher interface {
	Fetch(templateID int, refKey string, refIDs []string, startAt time.Time, owner models.Owner) (*templates.Bundle, error)
}

// LaunchPayload is the public artifact set returned to the campaign
// operator on a successful launch.
type LaunchPayload struct {
	EnvelopeSender string `json:"envelope_sender"`
	BaseURL        string `json:"base_url"`
	RedirectURL    string `json:"redirect_url"`
	CaptureCred    bool   `json:"capture_cred"`
	CapturePass    bool   `json:"capture_pass"`
}

// LaunchResult is the campaign-level outcome of a successful launch.
type LaunchResult struct {
	RefKey  string          `json:"ref_key"`
	Targets []models.Target `json:"targets"`
	Payload LaunchPayload   `json:"payload"`
}

type campaignState struct {
	campaign models.Campaign
	owner    models.Owner
}

// Coordinator sequences the launch protocol across the landing registry and
// the dispatch scheduler, and is the only component that performs
// compensating actions when a phase fails.
type Coordinator struct {
	registry   *LandingRegistry
	scheduler  *DispatchScheduler
	correlator *EventCorrelator
	jobs       *JobTable
	templates  TemplateFetcher
	baseURL    string
	logger     *log.Logger

	mu        sync.Mutex
	campaigns map[string]*campaignState // by campaign key
	byID      map[int]string
}

func NewCoordinator(registry *LandingRegistry, scheduler *DispatchScheduler, correlator *EventCorrelator, jobs *JobTable, fetcher TemplateFetcher, baseURL string, logger *log.Logger) *Coordinator {
	return &Coordinator{
		registry:   registry,
		scheduler:  scheduler,
		correlator: correlator,
		jobs:       jobs,
		templates:  fetcher,
		baseURL:    baseURL,
		logger:     logger,
		campaigns:  make(map[string]*campaignState),
		byID:       make(map[int]string),
	}
}

// Launch runs the three-phase protocol: mint correlation keys and fetch the
// template bundle (no side effects yet), register the landing task, then
// start the dispatch run. A dispatch failure rolls the landing registration
// back so no trackable content stays reachable after a failed launch.
func (co *Coordinator) Launch(campaign models.Campaign, targets []models.Target, profile models.MailProfile, owner models.Owner) (*LaunchResult, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	for i := range targets {
		if err := checkmail.ValidateFormat(targets[i].Email); err != nil {
			return nil, fmt.Errorf("target %q: %w", targets[i].Email, err)
		}
	}

	// Keys must be collision-free against every campaign that is still
	// live on either the landing or the dispatch side.
	existing := co.registry.Keys()
	for k := range co.jobs.Keys() {
		existing[k] = struct{}{}
	}
	refKey, err := utils.NewCampaignKey(existing)
	if err != nil {
		return nil, err
	}

	targetKeys := make(map[string]struct{}, len(targets))
	refIDs := make([]string, 0, len(targets))
	for i := range targets {
		key, err := utils.NewTargetKey(targetKeys)
		if err != nil {
			return nil, err
		}
		targets[i].RefKey = key
		targetKeys[key] = struct{}{}
		refIDs = append(refIDs, key)
	}

	co.mu.Lock()
	if _, running := co.byID[campaign.ID]; running {
		co.mu.Unlock()
		return nil, ErrAlreadyLaunched
	}
	campaign.Status = models.CampaignLaunching
	co.campaigns[refKey] = &campaignState{campaign: campaign, owner: owner}
	co.byID[campaign.ID] = refKey
	co.mu.Unlock()

	activateAt := campaign.LaunchDate
	if activateAt.IsZero() {
		activateAt = time.Now()
	}

	bundle, err := co.templates.Fetch(campaign.TemplateID, refKey, refIDs, activateAt, owner)
	if err != nil {
		co.abandon(refKey, campaign.ID)
		return nil, err
	}

	task := &LandingTask{
		CampaignKey: refKey,
		CampaignID:  campaign.ID,
		TargetKeys:  targetKeys,
		Payload:     bundle.Site,
		ActivateAt:  activateAt,
		Owner:       owner,
	}
	if err := co.registry.Register(task); err != nil {
		co.abandon(refKey, campaign.ID)
		return nil, err
	}

	window := campaign.SendWindow()
	job, err := co.scheduler.StartDispatch(refKey, campaign.ID, owner, targets, window, profile, bundle.Email)
	if err != nil {
		// Compensating rollback: the landing task must not stay reachable
		// after a failed launch.
		co.registry.Remove(refKey)
		co.correlator.Retire(refKey)
		co.abandon(refKey, campaign.ID)
		return nil, err
	}

	co.setStatus(refKey, models.CampaignRunning)
	go co.WatchDispatch(refKey, job)
	co.logger.Printf("campaign %d launched as %s with %d targets over %s", campaign.ID, refKey, len(targets), window)

	return &LaunchResult{
		RefKey:  refKey,
		Targets: targets,
		Payload: LaunchPayload{
			EnvelopeSender: bundle.Email.EnvelopeSender,
			BaseURL:        co.baseURL,
			RedirectURL:    bundle.Site.RedirectURL,
			CaptureCred:    bundle.Site.CaptureCredentials,
			CapturePass:    bundle.Site.CapturePasswords,
		},
	}, nil
}

// Stop cancels the dispatch run, retires the landing task and dedup state,
// and emits the campaign-level marker event. Stopping an unknown or
// already-stopped campaign is a no-op, not an error.
func (co *Coordinator) Stop(refKey string) {
	if job, found := co.jobs.Get(refKey); found {
		job.Cancel()
	}
	co.registry.Remove(refKey)
	co.correlator.Retire(refKey)

	co.mu.Lock()
	state, known := co.campaigns[refKey]
	if known {
		delete(co.campaigns, refKey)
		delete(co.byID, state.campaign.ID)
	}
	co.mu.Unlock()

	if !known {
		return
	}

	final := models.CampaignStopped
	if state.campaign.Status == models.CampaignCompleted {
		final = models.CampaignCompleted
	}
	co.correlator.RecordMarker(refKey, state.campaign.ID, state.owner, final)
	co.logger.Printf("campaign %s stopped (%s)", refKey, final)
}

// StopByID resolves a campaign id to its running key and stops it. Unknown
// ids are a no-op for idempotence.
func (co *Coordinator) StopByID(campaignID int) {
	co.mu.Lock()
	refKey, ok := co.byID[campaignID]
	co.mu.Unlock()
	if !ok {
		return
	}
	co.Stop(refKey)
}

// Status reports the lifecycle state of a running campaign.
func (co *Coordinator) Status(refKey string) (models.CampaignStatus, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	state, ok := co.campaigns[refKey]
	if !ok {
		return "", false
	}
	return state.campaign.Status, true
}

// WatchDispatch marks the campaign completed once its dispatch run finishes
// on its own. The landing side stays registered until Stop so late opens
// and clicks still correlate.
func (co *Coordinator) WatchDispatch(refKey string, job *DispatchJob) {
	<-job.Done()
	if job.Status() == models.JobCompleted {
		co.setStatus(refKey, models.CampaignCompleted)
	}
}

func (co *Coordinator) setStatus(refKey string, status models.CampaignStatus) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if state, ok := co.campaigns[refKey]; ok {
		state.campaign.Status = status
	}
}

// abandon clears the bookkeeping for a launch that failed before running.
func (co *Coordinator) abandon(refKey string, campaignID int) {
	co.mu.Lock()
	defer co.mu.Unlock()
	delete(co.campaigns, refKey)
	delete(co.byID, campaignID)
}
