package phishing

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"phishgrid/models"
	"phishgrid/reporting"
)

// CallerClass is the origin class of the service reporting an event.
// Mail-dispatch callers may only report send/fail; web-side callers (landing
// workers, report watcher) only open/click/submit/report.
type CallerClass int

const (
	CallerMail CallerClass = iota + 1
	CallerWeb
)

var kindOrigin = map[models.EventKind]CallerClass{
	models.EventSend:   CallerMail,
	models.EventFail:   CallerMail,
	models.EventOpen:   CallerWeb,
	models.EventClick:  CallerWeb,
	models.EventSubmit: CallerWeb,
	models.EventReport: CallerWeb,
}

var (
	// ErrOriginMismatch rejects an event kind reported by the wrong caller
	// class.
	ErrOriginMismatch = errors.New("event origin not authorized for caller")

	// ErrNoMatch covers every membership failure: unknown campaign key,
	// unknown target key, or a not-yet-active landing task. One error for
	// all of them, so a probing caller cannot tell which part was wrong.
	ErrNoMatch = errors.New("no matching campaign or target")
)

const correlatorShards = 16

type seenShard struct {
	mu   sync.Mutex
	seen map[string]map[string]map[models.EventKind]struct{} // campaignKey -> targetKey -> kinds
}

// EventCorrelator validates inbound events against running campaigns,
// enforces at-most-once per (campaign, target, kind) and forwards accepted
// events to the reporting collaborator. Dedup lives here, not in the store:
// the store is external and not trusted for idempotence.
type EventCorrelator struct {
	registry *LandingRegistry
	jobs     *JobTable
	recorder reporting.Recorder
	timeout  time.Duration
	logger   *log.Logger

	shards [correlatorShards]*seenShard
}

func NewEventCorrelator(registry *LandingRegistry, jobs *JobTable, recorder reporting.Recorder, timeout time.Duration, logger *log.Logger) *EventCorrelator {
	ec := &EventCorrelator{
		registry: registry,
		jobs:     jobs,
		recorder: recorder,
		timeout:  timeout,
		logger:   logger,
	}
	for i := range ec.shards {
		ec.shards[i] = &seenShard{seen: make(map[string]map[string]map[models.EventKind]struct{})}
	}
	return ec
}

func (ec *EventCorrelator) shard(campaignKey string) *seenShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(campaignKey))
	return ec.shards[h.Sum32()%correlatorShards]
}

// HandleEvent runs the full validation chain for one event. accepted=false
// with a nil error is the duplicate case: already recorded, nothing
// forwarded, not an error to the caller.
func (ec *EventCorrelator) HandleEvent(campaignKey, targetKey string, kind models.EventKind, payload interface{}, caller CallerClass) (bool, error) {
	origin, known := kindOrigin[kind]
	if !known {
		return false, ErrOriginMismatch
	}
	if origin != caller {
		return false, ErrOriginMismatch
	}

	var campaignID int
	var owner models.Owner

	switch caller {
	case CallerWeb:
		task, found := ec.registry.Lookup(campaignKey, targetKey)
		if !found {
			return false, ErrNoMatch
		}
		campaignID, owner = task.CampaignID, task.Owner
	case CallerMail:
		job, found := ec.jobs.Get(campaignKey)
		if !found || !job.HasTarget(targetKey) {
			return false, ErrNoMatch
		}
		campaignID, owner = job.CampaignID, job.Owner
	}

	if !ec.markSeen(campaignKey, targetKey, kind) {
		return false, nil
	}

	ec.forward(reporting.Record{
		CampaignID:  campaignID,
		CampaignKey: campaignKey,
		TargetKey:   targetKey,
		Kind:        kind,
		Payload:     payload,
		UserID:      owner.UserID,
		OrgID:       owner.OrgID,
		OccurredAt:  time.Now(),
	})
	return true, nil
}

// RecordMarker writes the campaign-level complete/stopped marker. It has no
// target key and bypasses per-target dedup; the coordinator calls it exactly
// once per stop.
func (ec *EventCorrelator) RecordMarker(campaignKey string, campaignID int, owner models.Owner, status models.CampaignStatus) {
	ec.forward(reporting.Record{
		CampaignID:  campaignID,
		CampaignKey: campaignKey,
		Kind:        models.EventComplete,
		Payload:     map[string]string{"status": string(status)},
		UserID:      owner.UserID,
		OrgID:       owner.OrgID,
		OccurredAt:  time.Now(),
	})
}

// forward hands the record to the reporting collaborator under a bounded
// timeout. A failure here loses the event rather than blocking or retrying
// into a duplicate; the dedup mark stays set.
func (ec *EventCorrelator) forward(rec reporting.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), ec.timeout)
	defer cancel()

	if err := ec.recorder.Record(ctx, rec); err != nil {
		ec.logger.Printf("dropping %s event for %s/%s: %v", rec.Kind, rec.CampaignKey, rec.TargetKey, err)
		sentry.CaptureException(err)
	}
}

// markSeen returns false if the kind was already recorded for the pair.
func (ec *EventCorrelator) markSeen(campaignKey, targetKey string, kind models.EventKind) bool {
	s := ec.shard(campaignKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	targets, ok := s.seen[campaignKey]
	if !ok {
		targets = make(map[string]map[models.EventKind]struct{})
		s.seen[campaignKey] = targets
	}
	kinds, ok := targets[targetKey]
	if !ok {
		kinds = make(map[models.EventKind]struct{})
		targets[targetKey] = kinds
	}
	if _, dup := kinds[kind]; dup {
		return false
	}
	kinds[kind] = struct{}{}
	return true
}

// Retire drops all dedup state for a campaign. Its key becomes reusable
// afterwards.
func (ec *EventCorrelator) Retire(campaignKey string) {
	s := ec.shard(campaignKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, campaignKey)
}
