package gateway

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	commonhttp "policy-orchestrator/internal/common/http"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	XMLName   xml.Name `xml:"Request"`
	Operation string   `xml:"operation,attr"`
	Session   string   `xml:"session,attr"`
	Params    struct {
		Inner string `xml:",innerxml"`
	} `xml:"Params"`
}

// backendStub answers Login and delegates other operations to handle.
func backendStub(t *testing.T, handle func(req recordedRequest) string) (*httptest.Server, *int32) {
	t.Helper()
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req recordedRequest
		require.NoError(t, xml.Unmarshal(body, &req))

		w.Header().Set("Content-Type", "text/xml")
		if req.Operation == "Login" {
			n := atomic.AddInt32(&logins, 1)
			_, _ = io.WriteString(w, `<Response><Result><SessionId>sess-`+string(rune('0'+n))+`</SessionId></Result></Response>`)
			return
		}
		_, _ = io.WriteString(w, handle(req))
	}))
	return srv, &logins
}

func newTestClient(url string) *Client {
	return NewClient(Config{URL: url, Username: "svc", Password: "secret", SessionTTL: time.Minute},
		commonhttp.NewClient(5*time.Second, 0, 0), nil, logger.NewNoOpLogger())
}

func TestClient_CreateQuoteSendsSession(t *testing.T) {
	var seen recordedRequest
	srv, logins := backendStub(t, func(req recordedRequest) string {
		seen = req
		return `<Response><Result><QuoteId>Q-77</QuoteId></Result></Response>`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	id, err := c.CreateQuote(context.Background(), QuoteRequest{SubmissionID: "S-1", Classification: "8810", Jurisdiction: "TX"})
	require.NoError(t, err)
	assert.Equal(t, "Q-77", id)
	assert.Equal(t, "CreateQuote", seen.Operation)
	assert.Equal(t, "sess-1", seen.Session)
	assert.Contains(t, seen.Params.Inner, "<SubmissionId>S-1</SubmissionId>")

	_, err = c.CreateQuote(context.Background(), QuoteRequest{SubmissionID: "S-2"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(logins), "session is cached")
}

func TestClient_SessionExpiredForcesRelogin(t *testing.T) {
	var calls int32
	srv, logins := backendStub(t, func(req recordedRequest) string {
		if atomic.AddInt32(&calls, 1) == 1 {
			return `<Response><Fault code="SESSION_EXPIRED" message="stale"/></Response>`
		}
		return `<Response><Result><Issued>true</Issued></Result></Response>`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Issue(context.Background(), "POL-1")
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, FaultSessionExpired, fault.FaultCode())

	issued, err := c.Issue(context.Background(), "POL-1")
	require.NoError(t, err)
	assert.True(t, issued)
	assert.Equal(t, int32(2), atomic.LoadInt32(logins))
}

func TestClient_BindAlreadyBound(t *testing.T) {
	srv, _ := backendStub(t, func(req recordedRequest) string {
		return `<Response><Fault code="ALREADY_BOUND" message="bound" policyNumber="POL-9"/></Response>`
	})
	defer srv.Close()

	_, err := newTestClient(srv.URL).Bind(context.Background(), "OPT-1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	var already *AlreadyBoundError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "POL-9", already.PolicyNumber)
}

func TestClient_HTTPStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL}, commonhttp.NewClient(time.Second, 0, 0), StaticSession("s"), logger.NewNoOpLogger())
	_, err := c.CreateRatingOption(context.Background(), "Q-1")
	var se *commonhttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode())
}

func TestClient_ImportRatingTemplateAndSearch(t *testing.T) {
	srv, _ := backendStub(t, func(req recordedRequest) string {
		switch req.Operation {
		case "ImportRatingTemplate":
			return `<Response><Result><OptionId>OPT-3</OptionId><Premium>1639.00</Premium></Result></Response>`
		case "SearchEntity":
			return `<Response><Result><Entity id="P-1" name="Acme Brokers"/><Entity id="P-2" name="Jane Roe" lastName="Roe"/></Result></Response>`
		}
		return `<Response><Fault code="UNKNOWN_OPERATION" message="?"/></Response>`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.ImportRatingTemplate(context.Background(), "Q-1", []byte("rate: 1"))
	require.NoError(t, err)
	assert.Equal(t, "OPT-3", res.OptionID)
	assert.True(t, res.Premium.Equal(decimal.RequireFromString("1639")))

	found, err := c.SearchEntity(context.Background(), models.EntityProducer, "acme")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Roe", found[1].LastName)

	err = c.LinkExternalID(context.Background(), "Q-1", "EXT-1", "partner")
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "UNKNOWN_OPERATION", fault.Code)
}

func TestClient_AddPremiumSendsAmountUnrounded(t *testing.T) {
	var amounts []string
	srv, _ := backendStub(t, func(req recordedRequest) string {
		var params struct {
			Amount string `xml:"Amount"`
		}
		require.NoError(t, xml.Unmarshal([]byte("<Params>"+req.Params.Inner+"</Params>"), &params))
		amounts = append(amounts, params.Amount)
		return `<Response><Result/></Response>`
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	for _, amount := range []string{"1639.005", "1639.00", "250", "0.1"} {
		require.NoError(t, c.AddPremium(context.Background(), "Q-1", "OPT-1", decimal.RequireFromString(amount)))
	}
	assert.Equal(t, []string{"1639.005", "1639.00", "250.00", "0.10"}, amounts)
}

func TestMemory_BindTwiceReportsAlreadyBound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	policy, err := m.Bind(ctx, "OPT-1", time.Now())
	require.NoError(t, err)

	_, err = m.Bind(ctx, "OPT-1", time.Now())
	var already *AlreadyBoundError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, policy, already.PolicyNumber)
	assert.Equal(t, 2, m.CallCount("Bind"))
}

func TestMemory_FailNextIsConsumedInOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.FailNext("CreateQuote", context.DeadlineExceeded, &Fault{Code: "INVALID"})

	_, err := m.CreateQuote(ctx, QuoteRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = m.CreateQuote(ctx, QuoteRequest{})
	assert.Error(t, err)
	id, err := m.CreateQuote(ctx, QuoteRequest{})
	require.NoError(t, err)
	assert.Equal(t, "QTE-1", id)
}
