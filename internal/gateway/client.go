package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	commonhttp "policy-orchestrator/internal/common/http"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"

	"github.com/shopspring/decimal"
)

const maxResponseBytes = 4 << 20

// Config points the XML client at the backend.
type Config struct {
	URL      string
	Username string
	Password string
	// SessionTTL bounds how long a login session is reused.
	SessionTTL time.Duration
}

// Client speaks the backend's XML request/response envelope over HTTP.
type Client struct {
	endpoint string
	http     *commonhttp.Client
	sessions SessionProvider
	logger   logger.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient builds an XML gateway. When sessions is nil a LoginSession using
// cfg credentials is created.
func NewClient(cfg Config, httpClient *commonhttp.Client, sessions SessionProvider, log logger.Logger) *Client {
	c := &Client{
		endpoint: cfg.URL,
		http:     httpClient,
		logger:   log.WithFields(map[string]interface{}{"component": "gateway"}),
	}
	if sessions == nil {
		sessions = NewLoginSession(c, cfg.Username, cfg.Password, cfg.SessionTTL)
	}
	c.sessions = sessions
	return c
}

type requestEnvelope struct {
	XMLName   xml.Name    `xml:"Request"`
	Operation string      `xml:"operation,attr"`
	Session   string      `xml:"session,attr,omitempty"`
	Params    interface{} `xml:"Params"`
}

type faultXML struct {
	Code         string `xml:"code,attr"`
	Message      string `xml:"message,attr"`
	PolicyNumber string `xml:"policyNumber,attr"`
}

type responseEnvelope struct {
	XMLName xml.Name  `xml:"Response"`
	Fault   *faultXML `xml:"Fault"`
	Result  struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"Result"`
}

// call performs one authenticated operation.
func (c *Client) call(ctx context.Context, operation string, params, out interface{}) error {
	token, err := c.sessions.Session(ctx)
	if err != nil {
		return err
	}
	err = c.send(ctx, operation, token, params, out)
	var fault *Fault
	if asFault(err, &fault) && (fault.Code == FaultSessionExpired || fault.Code == FaultSessionConflict) {
		c.sessions.Invalidate(token)
		c.logger.Warn("backend session invalidated", map[string]interface{}{
			"operation": operation,
			"faultCode": fault.Code,
		})
	}
	return err
}

func asFault(err error, target **Fault) bool {
	f, ok := err.(*Fault)
	if ok {
		*target = f
	}
	return ok
}

// send performs one round trip without session handling.
func (c *Client) send(ctx context.Context, operation, session string, params, out interface{}) error {
	body, err := xml.Marshal(requestEnvelope{Operation: operation, Session: session, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("X-Operation", operation)

	start := time.Now()
	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return err
	}
	raw, err := commonhttp.ReadBody(resp, maxResponseBytes)
	if err != nil {
		return err
	}

	c.logger.Debug("backend call", map[string]interface{}{
		"operation":  operation,
		"durationMs": time.Since(start).Milliseconds(),
	})

	var env responseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	if env.Fault != nil {
		if env.Fault.Code == FaultAlreadyBound {
			return &AlreadyBoundError{PolicyNumber: env.Fault.PolicyNumber}
		}
		return &Fault{Code: env.Fault.Code, Message: env.Fault.Message}
	}
	if out == nil {
		return nil
	}

	wrapped := make([]byte, 0, len(env.Result.Inner)+17)
	wrapped = append(wrapped, "<Result>"...)
	wrapped = append(wrapped, env.Result.Inner...)
	wrapped = append(wrapped, "</Result>"...)
	if err := xml.Unmarshal(wrapped, out); err != nil {
		return fmt.Errorf("decode %s result: %w", operation, err)
	}
	return nil
}

func requireID(operation, id string) (string, error) {
	if id == "" {
		return "", &Fault{Code: "EMPTY_RESULT", Message: operation + " returned no identifier"}
	}
	return id, nil
}

func (c *Client) FindOrCreateInsured(ctx context.Context, req InsuredRequest) (string, error) {
	var out struct {
		InsuredID string `xml:"InsuredId"`
	}
	if err := c.call(ctx, "FindOrCreateInsured", req, &out); err != nil {
		return "", err
	}
	return requireID("FindOrCreateInsured", out.InsuredID)
}

func (c *Client) AddLocation(ctx context.Context, insuredID string, addr models.Address) (string, error) {
	params := struct {
		InsuredID string         `xml:"InsuredId"`
		Address   models.Address `xml:"Address"`
	}{insuredID, addr}
	var out struct {
		LocationID string `xml:"LocationId"`
	}
	if err := c.call(ctx, "AddLocation", params, &out); err != nil {
		return "", err
	}
	return requireID("AddLocation", out.LocationID)
}

func (c *Client) LinkAdditionalInsured(ctx context.Context, insuredID, partyID, relationship string) error {
	params := struct {
		InsuredID    string `xml:"InsuredId"`
		PartyID      string `xml:"PartyId"`
		Relationship string `xml:"Relationship,omitempty"`
	}{insuredID, partyID, relationship}
	return c.call(ctx, "LinkAdditionalInsured", params, nil)
}

func (c *Client) CreateSubmission(ctx context.Context, req SubmissionRequest) (string, error) {
	var out struct {
		SubmissionID string `xml:"SubmissionId"`
	}
	if err := c.call(ctx, "CreateSubmission", req, &out); err != nil {
		return "", err
	}
	return requireID("CreateSubmission", out.SubmissionID)
}

func (c *Client) CreateQuote(ctx context.Context, req QuoteRequest) (string, error) {
	var out struct {
		QuoteID string `xml:"QuoteId"`
	}
	if err := c.call(ctx, "CreateQuote", req, &out); err != nil {
		return "", err
	}
	return requireID("CreateQuote", out.QuoteID)
}

func (c *Client) CreateRatingOption(ctx context.Context, quoteID string) (string, error) {
	params := struct {
		QuoteID string `xml:"QuoteId"`
	}{quoteID}
	var out struct {
		OptionID string `xml:"OptionId"`
	}
	if err := c.call(ctx, "CreateRatingOption", params, &out); err != nil {
		return "", err
	}
	return requireID("CreateRatingOption", out.OptionID)
}

func (c *Client) AddPremium(ctx context.Context, quoteID, optionID string, amount decimal.Decimal) error {
	params := struct {
		QuoteID  string `xml:"QuoteId"`
		OptionID string `xml:"OptionId"`
		Amount   string `xml:"Amount"`
	}{quoteID, optionID, models.FormatAmount(amount)}
	return c.call(ctx, "AddPremium", params, nil)
}

func (c *Client) ImportRatingTemplate(ctx context.Context, quoteID string, template []byte) (RatingResult, error) {
	params := struct {
		QuoteID  string `xml:"QuoteId"`
		Template string `xml:"Template"`
	}{quoteID, base64.StdEncoding.EncodeToString(template)}
	var out struct {
		OptionID string `xml:"OptionId"`
		Premium  string `xml:"Premium"`
	}
	if err := c.call(ctx, "ImportRatingTemplate", params, &out); err != nil {
		return RatingResult{}, err
	}
	if _, err := requireID("ImportRatingTemplate", out.OptionID); err != nil {
		return RatingResult{}, err
	}
	premium, err := decimal.NewFromString(out.Premium)
	if err != nil {
		return RatingResult{}, &Fault{Code: "INVALID_PREMIUM", Message: fmt.Sprintf("premium %q: %v", out.Premium, err)}
	}
	return RatingResult{OptionID: out.OptionID, Premium: premium}, nil
}

func (c *Client) Bind(ctx context.Context, optionID string, boundDate time.Time) (string, error) {
	params := struct {
		OptionID  string `xml:"OptionId"`
		BoundDate string `xml:"BoundDate"`
	}{optionID, boundDate.Format("2006-01-02")}
	var out struct {
		PolicyNumber string `xml:"PolicyNumber"`
	}
	if err := c.call(ctx, "Bind", params, &out); err != nil {
		return "", err
	}
	return requireID("Bind", out.PolicyNumber)
}

func (c *Client) Issue(ctx context.Context, policyNumber string) (bool, error) {
	params := struct {
		PolicyNumber string `xml:"PolicyNumber"`
	}{policyNumber}
	var out struct {
		Issued bool `xml:"Issued"`
	}
	if err := c.call(ctx, "Issue", params, &out); err != nil {
		return false, err
	}
	return out.Issued, nil
}

func (c *Client) LinkExternalID(ctx context.Context, quoteID, externalID, source string) error {
	params := struct {
		QuoteID    string `xml:"QuoteId"`
		ExternalID string `xml:"ExternalId"`
		Source     string `xml:"Source"`
	}{quoteID, externalID, source}
	return c.call(ctx, "LinkExternalId", params, nil)
}

func (c *Client) SearchEntity(ctx context.Context, kind models.EntityKind, query string) ([]models.EntityCandidate, error) {
	params := struct {
		Kind  string `xml:"Kind"`
		Query string `xml:"Query"`
	}{string(kind), query}
	var out struct {
		Entities []struct {
			ID       string `xml:"id,attr"`
			Name     string `xml:"name,attr"`
			LastName string `xml:"lastName,attr"`
		} `xml:"Entity"`
	}
	if err := c.call(ctx, "SearchEntity", params, &out); err != nil {
		return nil, err
	}
	candidates := make([]models.EntityCandidate, 0, len(out.Entities))
	for _, e := range out.Entities {
		candidates = append(candidates, models.EntityCandidate{BackendID: e.ID, DisplayName: e.Name, LastName: e.LastName})
	}
	return candidates, nil
}
