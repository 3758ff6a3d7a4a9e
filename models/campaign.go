package models

import (
	"time"
)

// CampaignStatus is the lifecycle of one orchestration run. State is
// process-local: a campaign in flight at restart is re-launched by the
// operator, not resumed.
type CampaignStatus string

const (
	CampaignIdle      CampaignStatus = "idle"
	CampaignLaunching CampaignStatus = "launching"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignFailed    CampaignStatus = "failed"
)

// Owner carries the user/org context a campaign was launched under. It is
// attached to the landing task so inbound-interaction events can be
// attributed without another lookup.
type Owner struct {
	UserID int    `json:"user_id" validate:"required,gt=0"`
	OrgID  int    `json:"org_id"`
	Role   string `json:"role"`
}

// Campaign identifies one phishing-simulation run.
type Campaign struct {
	ID         int            `json:"id" validate:"required,gt=0"`
	Name       string         `json:"name"`
	TemplateID int            `json:"templates_id" validate:"required,gt=0"`
	SMTPID     int            `json:"smtp_id"`
	LaunchDate time.Time      `json:"launch_date"`
	SendByDate time.Time      `json:"send_by_date"`
	Status     CampaignStatus `json:"status"`
}

// SendWindow is the duration the dispatch run is paced over. Zero or
// negative when the deadline is unset or already past.
func (c *Campaign) SendWindow() time.Duration {
	if c.SendByDate.IsZero() || c.LaunchDate.IsZero() {
		return 0
	}
	return c.SendByDate.Sub(c.LaunchDate)
}

// Target is one recipient within a campaign. RefKey is assigned at launch
// and immutable afterwards.
type Target struct {
	ID          int    `json:"id"`
	RefKey      string `json:"ref"`
	Email       string `json:"email" validate:"required"`
	FirstName   string `json:"firstname"`
	LastName    string `json:"lastname"`
	Department  string `json:"department"`
	Position    string `json:"position"`
	PhoneNumber string `json:"phonenumber"`
}

// TemplateFields is the data a subject/body template is rendered against.
func (t *Target) TemplateFields(trackingURL string) map[string]string {
	return map[string]string{
		"Email":       t.Email,
		"FirstName":   t.FirstName,
		"LastName":    t.LastName,
		"Department":  t.Department,
		"Position":    t.Position,
		"PhoneNumber": t.PhoneNumber,
		"URL":         trackingURL,
	}
}

// LandingPayload is the rendering content registered for a campaign's
// web-facing side.
type LandingPayload struct {
	HTML               string `json:"html"`
	CaptureCredentials bool   `json:"capture_credentials"`
	CapturePasswords   bool   `json:"capture_passwords"`
	RedirectURL        string `json:"redirect_url"`
}

// MailProfile is the SMTP profile a dispatch run delivers through. Profiles
// themselves are CRUD-managed elsewhere; the launch request resolves one and
// hands it over by value.
type MailProfile struct {
	Host           string `json:"host" validate:"required"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"-"`
	FromAddress    string `json:"from_address"`
	IgnoreCertErrs bool   `json:"ignore_cert_errors"`
}

// EmailContent is the rendered-per-target email template for a campaign.
type EmailContent struct {
	EnvelopeSender string `json:"envelope_sender"`
	Subject        string `json:"subject"`
	HTML           string `json:"html"`
	Attachments    string `json:"attachments"`
}

// JobStatus is the dispatch run lifecycle. Stopped is terminal and distinct
// from Completed.
type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobStopped   JobStatus = "stopped"
)
