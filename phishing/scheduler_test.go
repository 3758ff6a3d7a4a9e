package phishing

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phishgrid/models"
	"phishgrid/utils"
)

type stubSender struct {
	mu      sync.Mutex
	sent    []utils.OutboundEmail
	failFor map[string]bool
}

func (s *stubSender) Send(_ models.MailProfile, msg utils.OutboundEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[msg.To] {
		return errors.New("smtp rejected recipient")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubSender) delivered() []utils.OutboundEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]utils.OutboundEmail, len(s.sent))
	copy(out, s.sent)
	return out
}

func quietLogrus() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testTargets(refKeys ...string) []models.Target {
	targets := make([]models.Target, 0, len(refKeys))
	for i, key := range refKeys {
		targets = append(targets, models.Target{
			RefKey:    key,
			Email:     string(rune('a'+i)) + "@example.com",
			FirstName: "Target",
		})
	}
	return targets
}

var testContent = models.EmailContent{
	EnvelopeSender: "it-support@example.com",
	Subject:        "Hi {{.FirstName}}",
	HTML:           `<a href="{{.URL}}">Review</a>`,
}

func newTestScheduler(t *testing.T, capacity int64, sender utils.MailSender) (*DispatchScheduler, *JobTable, *captureRecorder) {
	t.Helper()
	registry := NewLandingRegistry()
	jobs := NewJobTable()
	rec := &captureRecorder{}
	correlator := NewEventCorrelator(registry, jobs, rec, time.Second, testLogger())
	return NewDispatchScheduler(capacity, jobs, correlator, sender, "https://track.example.com", quietLogrus()), jobs, rec
}

func waitDone(t *testing.T, job *DispatchJob) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch job did not finish in time")
	}
}

func TestDispatchCompletes(t *testing.T) {
	sender := &stubSender{}
	ds, _, rec := newTestScheduler(t, 1, sender)

	job, err := ds.StartDispatch("abcd1234", 1, models.Owner{UserID: 1}, testTargets("t1t1t1t1", "t2t2t2t2", "t3t3t3t3"), 0, models.MailProfile{Host: "smtp.example.com"}, testContent)
	require.NoError(t, err)
	waitDone(t, job)

	assert.Equal(t, models.JobCompleted, job.Status())
	sent, failed := job.Counters()
	assert.Equal(t, 3, sent)
	assert.Equal(t, 0, failed)

	delivered := sender.delivered()
	require.Len(t, delivered, 3)
	assert.Equal(t, "Hi Target", delivered[0].Subject)
	assert.Contains(t, delivered[0].HTML, "https://track.example.com/lure?")
	assert.Contains(t, delivered[0].HTML, "https://track.example.com/t/px.png?")

	assert.Equal(t, []models.EventKind{models.EventSend, models.EventSend, models.EventSend}, rec.kinds())
}

func TestDispatchPerTargetFailure(t *testing.T) {
	sender := &stubSender{failFor: map[string]bool{"b@example.com": true}}
	ds, _, rec := newTestScheduler(t, 1, sender)

	job, err := ds.StartDispatch("abcd1234", 1, models.Owner{UserID: 1}, testTargets("t1t1t1t1", "t2t2t2t2", "t3t3t3t3"), 0, models.MailProfile{Host: "smtp.example.com"}, testContent)
	require.NoError(t, err)
	waitDone(t, job)

	// One bad recipient does not stop the run.
	assert.Equal(t, models.JobCompleted, job.Status())
	sent, failed := job.Counters()
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, failed)
	assert.Contains(t, rec.kinds(), models.EventFail)
}

func TestDispatchRenderFailureCountsAsFail(t *testing.T) {
	sender := &stubSender{}
	ds, _, rec := newTestScheduler(t, 1, sender)

	broken := models.EmailContent{Subject: "Hi {{.NoSuchField}}", HTML: "<p>x</p>"}
	job, err := ds.StartDispatch("abcd1234", 1, models.Owner{UserID: 1}, testTargets("t1t1t1t1"), 0, models.MailProfile{}, broken)
	require.NoError(t, err)
	waitDone(t, job)

	assert.Equal(t, models.JobCompleted, job.Status())
	sent, failed := job.Counters()
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, failed)
	assert.Empty(t, sender.delivered())
	assert.Equal(t, []models.EventKind{models.EventFail}, rec.kinds())
}

func TestDispatchStop(t *testing.T) {
	sender := &stubSender{}
	ds, jobs, _ := newTestScheduler(t, 1, sender)

	// An hour-long window means the first pacing wait is still running when
	// the stop lands.
	job, err := ds.StartDispatch("abcd1234", 1, models.Owner{UserID: 1}, testTargets("t1t1t1t1", "t2t2t2t2", "t3t3t3t3", "t4t4t4t4"), time.Hour, models.MailProfile{}, testContent)
	require.NoError(t, err)

	job.Cancel()
	waitDone(t, job)

	assert.Equal(t, models.JobStopped, job.Status())
	sent, _ := job.Counters()
	assert.Zero(t, sent)
	assert.Empty(t, sender.delivered())

	_, stillThere := jobs.Get("abcd1234")
	assert.False(t, stillThere, "finished job must leave the table")
}

func TestDispatchAdmissionGate(t *testing.T) {
	sender := &stubSender{}
	ds, _, _ := newTestScheduler(t, 1, sender)

	long, err := ds.StartDispatch("abcd1234", 1, models.Owner{UserID: 1}, testTargets("t1t1t1t1"), time.Hour, models.MailProfile{}, testContent)
	require.NoError(t, err)
	defer func() {
		long.Cancel()
		waitDone(t, long)
	}()

	_, err = ds.StartDispatch("efgh5678", 2, models.Owner{UserID: 1}, testTargets("t2t2t2t2"), 0, models.MailProfile{}, testContent)
	assert.ErrorIs(t, err, ErrDispatchBusy)
}

func TestDispatchDuplicateCampaignKey(t *testing.T) {
	sender := &stubSender{}
	ds, _, _ := newTestScheduler(t, 2, sender)

	long, err := ds.StartDispatch("abcd1234", 1, models.Owner{UserID: 1}, testTargets("t1t1t1t1"), time.Hour, models.MailProfile{}, testContent)
	require.NoError(t, err)
	defer func() {
		long.Cancel()
		waitDone(t, long)
	}()

	_, err = ds.StartDispatch("abcd1234", 1, models.Owner{UserID: 1}, testTargets("t2t2t2t2"), 0, models.MailProfile{}, testContent)
	assert.ErrorIs(t, err, ErrJobExists)

	// The rejected start must have released its gate slot.
	other, err := ds.StartDispatch("ijkl9012", 3, models.Owner{UserID: 1}, testTargets("t3t3t3t3"), 0, models.MailProfile{}, testContent)
	require.NoError(t, err)
	waitDone(t, other)
	assert.Equal(t, models.JobCompleted, other.Status())
}

func TestJobWaitImmediateWhenCancelled(t *testing.T) {
	job := newDispatchJob("abcd1234", 1, models.Owner{}, testTargets("t1t1t1t1"))
	job.Cancel()
	assert.False(t, job.wait(0))
	assert.False(t, job.wait(time.Hour))
}
