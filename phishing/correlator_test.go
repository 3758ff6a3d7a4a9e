package phishing

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phishgrid/models"
	"phishgrid/reporting"
)

// captureRecorder collects forwarded records for assertions.
type captureRecorder struct {
	mu   sync.Mutex
	recs []reporting.Record
}

func (c *captureRecorder) Record(_ context.Context, rec reporting.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *captureRecorder) records() []reporting.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]reporting.Record, len(c.recs))
	copy(out, c.recs)
	return out
}

func (c *captureRecorder) kinds() []models.EventKind {
	var kinds []models.EventKind
	for _, rec := range c.records() {
		kinds = append(kinds, rec.Kind)
	}
	return kinds
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestCorrelator(t *testing.T) (*EventCorrelator, *LandingRegistry, *JobTable, *captureRecorder) {
	t.Helper()
	registry := NewLandingRegistry()
	jobs := NewJobTable()
	rec := &captureRecorder{}
	return NewEventCorrelator(registry, jobs, rec, time.Second, testLogger()), registry, jobs, rec
}

func TestHandleEventWebOrigin(t *testing.T) {
	ec, registry, _, rec := newTestCorrelator(t)
	require.NoError(t, registry.Register(newTestTask("abcd1234", "WXYZ9876")))

	accepted, err := ec.HandleEvent("abcd1234", "WXYZ9876", models.EventClick, &models.ClickPayload{IP: "10.0.0.1"}, CallerWeb)
	require.NoError(t, err)
	assert.True(t, accepted)

	recs := rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.EventClick, recs[0].Kind)
	assert.Equal(t, "abcd1234", recs[0].CampaignKey)
	assert.Equal(t, 1, recs[0].UserID)
}

func TestHandleEventAtMostOnce(t *testing.T) {
	ec, registry, _, rec := newTestCorrelator(t)
	require.NoError(t, registry.Register(newTestTask("abcd1234", "WXYZ9876")))

	accepted, err := ec.HandleEvent("abcd1234", "WXYZ9876", models.EventOpen, &models.OpenPayload{}, CallerWeb)
	require.NoError(t, err)
	assert.True(t, accepted)

	// Same kind again: silently dropped, no error.
	accepted, err = ec.HandleEvent("abcd1234", "WXYZ9876", models.EventOpen, &models.OpenPayload{}, CallerWeb)
	require.NoError(t, err)
	assert.False(t, accepted)

	// A different kind for the same pair still goes through.
	accepted, err = ec.HandleEvent("abcd1234", "WXYZ9876", models.EventClick, &models.ClickPayload{}, CallerWeb)
	require.NoError(t, err)
	assert.True(t, accepted)

	assert.Equal(t, []models.EventKind{models.EventOpen, models.EventClick}, rec.kinds())
}

func TestHandleEventOriginMismatch(t *testing.T) {
	ec, registry, jobs, rec := newTestCorrelator(t)
	require.NoError(t, registry.Register(newTestTask("abcd1234", "WXYZ9876")))

	job := newDispatchJob("abcd1234", 1, models.Owner{UserID: 1}, []models.Target{{RefKey: "WXYZ9876", Email: "t@example.com"}})
	require.NoError(t, jobs.insert(job))

	// A web caller may not claim a send; a mail caller may not claim a click.
	_, err := ec.HandleEvent("abcd1234", "WXYZ9876", models.EventSend, &models.SendPayload{}, CallerWeb)
	assert.ErrorIs(t, err, ErrOriginMismatch)

	_, err = ec.HandleEvent("abcd1234", "WXYZ9876", models.EventClick, &models.ClickPayload{}, CallerMail)
	assert.ErrorIs(t, err, ErrOriginMismatch)

	// The marker kind is never accepted from the wire.
	_, err = ec.HandleEvent("abcd1234", "WXYZ9876", models.EventComplete, nil, CallerWeb)
	assert.ErrorIs(t, err, ErrOriginMismatch)

	assert.Empty(t, rec.records())
}

func TestHandleEventUniformNoMatch(t *testing.T) {
	ec, registry, _, _ := newTestCorrelator(t)
	require.NoError(t, registry.Register(newTestTask("abcd1234", "WXYZ9876")))

	// Unknown campaign, unknown target, mail event without a job: all the
	// same error value.
	_, err := ec.HandleEvent("nope0000", "WXYZ9876", models.EventClick, &models.ClickPayload{}, CallerWeb)
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = ec.HandleEvent("abcd1234", "nope0000", models.EventClick, &models.ClickPayload{}, CallerWeb)
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = ec.HandleEvent("abcd1234", "WXYZ9876", models.EventSend, &models.SendPayload{}, CallerMail)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestHandleEventMailOriginViaJob(t *testing.T) {
	ec, _, jobs, rec := newTestCorrelator(t)

	job := newDispatchJob("abcd1234", 7, models.Owner{UserID: 3, OrgID: 9}, []models.Target{{RefKey: "WXYZ9876", Email: "t@example.com"}})
	require.NoError(t, jobs.insert(job))

	accepted, err := ec.HandleEvent("abcd1234", "WXYZ9876", models.EventSend, &models.SendPayload{Email: "t@example.com"}, CallerMail)
	require.NoError(t, err)
	assert.True(t, accepted)

	recs := rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, 7, recs[0].CampaignID)
	assert.Equal(t, 9, recs[0].OrgID)
}

func TestRetireClearsDedup(t *testing.T) {
	ec, registry, _, rec := newTestCorrelator(t)
	require.NoError(t, registry.Register(newTestTask("abcd1234", "WXYZ9876")))

	_, err := ec.HandleEvent("abcd1234", "WXYZ9876", models.EventOpen, &models.OpenPayload{}, CallerWeb)
	require.NoError(t, err)

	ec.Retire("abcd1234")

	// Key reuse after retirement starts from a clean slate.
	accepted, err := ec.HandleEvent("abcd1234", "WXYZ9876", models.EventOpen, &models.OpenPayload{}, CallerWeb)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Len(t, rec.records(), 2)
}

func TestRecordMarker(t *testing.T) {
	ec, _, _, rec := newTestCorrelator(t)

	ec.RecordMarker("abcd1234", 5, models.Owner{UserID: 2}, models.CampaignStopped)

	recs := rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, models.EventComplete, recs[0].Kind)
	assert.Empty(t, recs[0].TargetKey)
	assert.Equal(t, map[string]string{"status": "stopped"}, recs[0].Payload)
}
