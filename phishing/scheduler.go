package phishing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"phishgrid/models"
	"phishgrid/utils"
)

var (
	// ErrDispatchBusy means the system-wide admission gate is full; the
	// campaign cannot start yet. The caller is told, not silently queued.
	ErrDispatchBusy = errors.New("dispatch capacity exhausted, try again later")

	// ErrJobExists rejects a second dispatch run for the same campaign key.
	ErrJobExists = errors.New("campaign is already dispatching")
)

// pacingPoll bounds how stale a cancellation check can get during the
// per-target pacing wait.
const pacingPoll = 250 * time.Millisecond

// DispatchJob is one running, cancellable send batch.
type DispatchJob struct {
	CampaignKey string
	CampaignID  int
	Owner       models.Owner

	targetKeys map[string]struct{}

	mu     sync.Mutex
	status models.JobStatus
	sent   int
	failed int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newDispatchJob(campaignKey string, campaignID int, owner models.Owner, targets []models.Target) *DispatchJob {
	keys := make(map[string]struct{}, len(targets))
	for i := range targets {
		keys[targets[i].RefKey] = struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DispatchJob{
		CampaignKey: campaignKey,
		CampaignID:  campaignID,
		Owner:       owner,
		targetKeys:  keys,
		status:      models.JobIdle,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// HasTarget reports membership of a target key in this run.
func (j *DispatchJob) HasTarget(targetKey string) bool {
	_, ok := j.targetKeys[targetKey]
	return ok
}

// Cancel requests a cooperative stop. The in-flight target send is not
// interrupted; no further targets are started.
func (j *DispatchJob) Cancel() {
	j.cancel()
}

// Done closes when the run reaches a terminal state.
func (j *DispatchJob) Done() <-chan struct{} {
	return j.done
}

func (j *DispatchJob) Status() models.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Counters returns the running sent/failed totals.
func (j *DispatchJob) Counters() (sent, failed int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sent, j.failed
}

func (j *DispatchJob) setStatus(s models.JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *DispatchJob) addSent() {
	j.mu.Lock()
	j.sent++
	j.mu.Unlock()
}

func (j *DispatchJob) addFailed() {
	j.mu.Lock()
	j.failed++
	j.mu.Unlock()
}

// wait sleeps for d while staying responsive to cancellation. Returns false
// if the job was cancelled; the wait never blocks longer than pacingPoll
// between cancellation checks, so Stop takes effect within seconds even
// inside an hours-long send window.
func (j *DispatchJob) wait(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-j.ctx.Done():
			return false
		default:
			return true
		}
	}

	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		step := pacingPoll
		if remaining < step {
			step = remaining
		}
		select {
		case <-j.ctx.Done():
			return false
		case <-time.After(step):
		}
	}
}

// JobTable tracks the one in-flight dispatch job per running campaign.
type JobTable struct {
	mu   sync.RWMutex
	jobs map[string]*DispatchJob
}

func NewJobTable() *JobTable {
	return &JobTable{jobs: make(map[string]*DispatchJob)}
}

func (t *JobTable) insert(job *DispatchJob) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.jobs[job.CampaignKey]; exists {
		return ErrJobExists
	}
	t.jobs[job.CampaignKey] = job
	return nil
}

func (t *JobTable) Get(campaignKey string) (*DispatchJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[campaignKey]
	return job, ok
}

func (t *JobTable) remove(campaignKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, campaignKey)
}

// Keys snapshots the campaign keys with an in-flight job, for key-collision
// checking alongside the landing registry.
func (t *JobTable) Keys() map[string]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make(map[string]struct{}, len(t.jobs))
	for k := range t.jobs {
		keys[k] = struct{}{}
	}
	return keys
}

// DispatchScheduler paces a campaign's sends across its window under a
// system-wide admission gate. Within one campaign sends are strictly
// sequential; across campaigns at most gate-capacity runs execute at once.
type DispatchScheduler struct {
	gate       *semaphore.Weighted
	jobs       *JobTable
	correlator *EventCorrelator
	sender     utils.MailSender
	baseURL    string
	logger     *logrus.Logger
}

func NewDispatchScheduler(maxConcurrent int64, jobs *JobTable, correlator *EventCorrelator, sender utils.MailSender, baseURL string, logger *logrus.Logger) *DispatchScheduler {
	return &DispatchScheduler{
		gate:       semaphore.NewWeighted(maxConcurrent),
		jobs:       jobs,
		correlator: correlator,
		sender:     sender,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// StartDispatch admits and starts one send run. Admission is non-blocking:
// a full gate returns ErrDispatchBusy immediately so the operator can retry
// rather than having the launch hang.
func (ds *DispatchScheduler) StartDispatch(campaignKey string, campaignID int, owner models.Owner, targets []models.Target, sendWindow time.Duration, profile models.MailProfile, content models.EmailContent) (*DispatchJob, error) {
	if !ds.gate.TryAcquire(1) {
		return nil, ErrDispatchBusy
	}

	job := newDispatchJob(campaignKey, campaignID, owner, targets)
	if err := ds.jobs.insert(job); err != nil {
		ds.gate.Release(1)
		return nil, err
	}

	go ds.run(job, targets, sendWindow, profile, content)
	return job, nil
}

func (ds *DispatchScheduler) run(job *DispatchJob, targets []models.Target, sendWindow time.Duration, profile models.MailProfile, content models.EmailContent) {
	defer ds.gate.Release(1)
	defer close(job.done)
	defer ds.jobs.remove(job.CampaignKey)

	job.setStatus(models.JobRunning)

	var delay time.Duration
	if len(targets) > 0 && sendWindow > 0 {
		delay = sendWindow / time.Duration(len(targets))
	}

	ds.logger.WithFields(logrus.Fields{
		"campaign_key": job.CampaignKey,
		"targets":      len(targets),
		"delay":        delay.String(),
	}).Info("dispatch run started")

	for i := range targets {
		if !job.wait(delay) {
			job.setStatus(models.JobStopped)
			sent, failed := job.Counters()
			ds.logger.WithFields(logrus.Fields{
				"campaign_key": job.CampaignKey,
				"sent":         sent,
				"failed":       failed,
			}).Info("dispatch run stopped")
			return
		}
		ds.sendOne(job, &targets[i], profile, content)
	}

	job.setStatus(models.JobCompleted)
	sent, failed := job.Counters()
	ds.logger.WithFields(logrus.Fields{
		"campaign_key": job.CampaignKey,
		"sent":         sent,
		"failed":       failed,
	}).Info("dispatch run completed")
}

// sendOne renders and delivers one target's message. Render and delivery
// failures are per-target: counted, reported as a fail event, and the loop
// moves on.
func (ds *DispatchScheduler) sendOne(job *DispatchJob, target *models.Target, profile models.MailProfile, content models.EmailContent) {
	lureURL := utils.LureURL(ds.baseURL, job.CampaignKey, target.RefKey)
	fields := target.TemplateFields(lureURL)

	subject, err := utils.RenderSubject(content.Subject, fields)
	if err == nil {
		var html string
		html, err = utils.RenderHTML(content.HTML, fields)
		if err == nil {
			pixel := utils.TrackingPixelURL(ds.baseURL, job.CampaignKey, target.RefKey)
			err = ds.sender.Send(profile, utils.OutboundEmail{
				From:    content.EnvelopeSender,
				To:      target.Email,
				Subject: subject,
				HTML:    utils.InjectTrackingPixel(html, pixel),
			})
		}
	}

	if err != nil {
		job.addFailed()
		ds.logger.WithFields(logrus.Fields{
			"campaign_key": job.CampaignKey,
			"target":       target.RefKey,
		}).WithError(err).Warn("target delivery failed")
		ds.emit(job, target, models.EventFail, models.FailPayload{Reason: err.Error()})
		return
	}

	job.addSent()
	ds.emit(job, target, models.EventSend, models.SendPayload{Email: target.Email})
}

func (ds *DispatchScheduler) emit(job *DispatchJob, target *models.Target, kind models.EventKind, payload interface{}) {
	if _, err := ds.correlator.HandleEvent(job.CampaignKey, target.RefKey, kind, payload, CallerMail); err != nil {
		ds.logger.WithFields(logrus.Fields{
			"campaign_key": job.CampaignKey,
			"target":       target.RefKey,
			"kind":         kind,
		}).WithError(err).Warn("dispatch event rejected")
	}
}
