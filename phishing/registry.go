// Package phishing is the campaign orchestration engine: landing-task
// registry, event correlator, dispatch scheduler and launch coordinator.
// All state here is process-local by design; campaigns in flight at restart
// are re-launched by the operator.
package phishing

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"phishgrid/models"
)

// ErrAlreadyRegistered means a landing task already exists for the campaign
// key, i.e. a double launch.
var ErrAlreadyRegistered = errors.New("campaign key already registered")

// LandingTask is the registered web-facing state of one campaign. Treated
// as immutable after Register; the registry is the only component that
// inserts or evicts entries.
type LandingTask struct {
	CampaignKey string
	CampaignID  int
	TargetKeys  map[string]struct{}
	Payload     models.LandingPayload
	ActivateAt  time.Time
	Owner       models.Owner
}

// HasTarget reports membership of a target key in this campaign.
func (t *LandingTask) HasTarget(targetKey string) bool {
	_, ok := t.TargetKeys[targetKey]
	return ok
}

const registryShards = 16

type registryShard struct {
	mu    sync.RWMutex
	tasks map[string]*LandingTask
}

// LandingRegistry is the in-memory landing task table. Entries are sharded
// by campaign key so inbound-interaction reads on unrelated campaigns never
// contend with each other or with register/remove on another campaign.
type LandingRegistry struct {
	shards [registryShards]*registryShard
	now    func() time.Time
}

func NewLandingRegistry() *LandingRegistry {
	r := &LandingRegistry{now: time.Now}
	for i := range r.shards {
		r.shards[i] = &registryShard{tasks: make(map[string]*LandingTask)}
	}
	return r
}

func (r *LandingRegistry) shard(campaignKey string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(campaignKey))
	return r.shards[h.Sum32()%registryShards]
}

// Register inserts the task. Fails if the campaign key is already present.
func (r *LandingRegistry) Register(task *LandingTask) error {
	s := r.shard(task.CampaignKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.CampaignKey]; exists {
		return ErrAlreadyRegistered
	}
	s.tasks[task.CampaignKey] = task
	return nil
}

// Lookup resolves an inbound web interaction. A task whose activation time
// has not arrived yet is reported as not found, the same as an unknown
// campaign or target key; pre-launch probes learn nothing.
func (r *LandingRegistry) Lookup(campaignKey, targetKey string) (*LandingTask, bool) {
	s := r.shard(campaignKey)
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[campaignKey]
	if !exists {
		return nil, false
	}
	if r.now().Before(task.ActivateAt) {
		return nil, false
	}
	if !task.HasTarget(targetKey) {
		return nil, false
	}
	return task, true
}

// Remove retires the task. Removing an absent key is a no-op.
func (r *LandingRegistry) Remove(campaignKey string) {
	s := r.shard(campaignKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, campaignKey)
}

// Keys snapshots the currently-registered campaign keys. The snapshot feeds
// collision checking at key-generation time.
func (r *LandingRegistry) Keys() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, s := range r.shards {
		s.mu.RLock()
		for k := range s.tasks {
			keys[k] = struct{}{}
		}
		s.mu.RUnlock()
	}
	return keys
}
