// Package templates is the client side of the template-rendering
// collaborator: given a template id and the freshly-minted correlation keys,
// it returns the campaign's email content and landing-page payload.
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"phishgrid/models"
)

var (
	// ErrNotFound maps the collaborator's 404: no such template resource.
	ErrNotFound = errors.New("template not found")
	// ErrIncomplete maps the collaborator's 406: the template exists but is
	// missing the email or site half and cannot back a launch.
	ErrIncomplete = errors.New("template is incomplete")
)

// Bundle is everything a launch needs from the template service.
type Bundle struct {
	Email models.EmailContent   `json:"email"`
	Site  models.LandingPayload `json:"site"`
}

type Client struct {
	URI     string
	APIKey  string
	Timeout time.Duration

	client *fasthttp.Client
}

func NewClient(uri, apiKey string, timeout time.Duration) *Client {
	return &Client{
		URI:     uri,
		APIKey:  apiKey,
		Timeout: timeout,
		client:  &fasthttp.Client{},
	}
}

type fetchRequest struct {
	APIKey     string       `json:"api_key"`
	TemplateID int          `json:"template_id"`
	RefKey     string       `json:"ref_key"`
	RefIDs     []string     `json:"ref_ids"`
	StartAt    int64        `json:"start_at"`
	Auth       models.Owner `json:"auth"`
}

// Fetch asks the template service for the bundle scoped to this campaign
// key and target-key set. A timeout here is a launch failure; the caller
// decides whether anything needs rolling back.
func (c *Client) Fetch(templateID int, refKey string, refIDs []string, startAt time.Time, owner models.Owner) (*Bundle, error) {
	body, err := json.Marshal(fetchRequest{
		APIKey:     c.APIKey,
		TemplateID: templateID,
		RefKey:     refKey,
		RefIDs:     refIDs,
		StartAt:    startAt.Unix(),
		Auth:       owner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode template request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.URI)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := c.client.DoTimeout(req, resp, c.Timeout); err != nil {
		return nil, fmt.Errorf("template service unreachable: %w", err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
		// fall through to decode
	case fasthttp.StatusNotFound:
		return nil, ErrNotFound
	case fasthttp.StatusNotAcceptable:
		return nil, ErrIncomplete
	default:
		return nil, fmt.Errorf("template service returned status %d", resp.StatusCode())
	}

	var bundle Bundle
	if err := json.Unmarshal(resp.Body(), &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode template response: %w", err)
	}
	if bundle.Email.Subject == "" && bundle.Email.HTML == "" {
		return nil, ErrIncomplete
	}
	return &bundle, nil
}
