package fundx

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/crypto"
	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const examTypesBody = `{"success":true,"data":[
 {"key":"basic","examType":"basic","name":"Basic","examPrice":"0.002","initialBalance":"10","currency":"USDC","isActive":true,"features":["30 days"]},
 {"key":"pro","examType":"pro","name":"Pro","examPrice":0.01,"initialBalance":"50","currency":"USDC","isActive":false,"evaluationTypeId":"7"},
 {"key":"advanced","name":"Advanced","examPrice":"0.006","initialBalance":"30","currency":"USDC"}
]}`

const combinedBody = `{"success":true,"data":{
 "phase":"phase1","examType":"basic","name":"Basic Phase 1","initialBalance":"10","currency":"USDC",
 "examPrice":"0.002","targetProfit":10,"minDaysRequired":7,"maxTotalLoss":6,"maxDailyLoss":2,
 "maxTimeDays":30,"maxPositionSize":20,"maxLeverage":5,"maxPositionValue":"1000",
 "maxOpenPositions":3,"maxDailyTrades":10,"maxDrawdown":8}}`

func newTestClient(srv *httptest.Server, opts ...func(*ClientConfig)) *Client {
	cfg := ClientConfig{ConfigURL: srv.URL + "/", ProvisioningURL: srv.URL, Timeout: 2 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	return New(cfg)
}

func TestExamTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/config/exam-types", r.URL.Path)
		w.Write([]byte(examTypesBody))
	}))
	defer srv.Close()

	types, err := newTestClient(srv).ExamTypes(t.Context())
	require.NoError(t, err)
	require.Len(t, types, 3)

	assert.Equal(t, "basic", types[0].Key)
	assert.Equal(t, domain.EvaluationTypeID(1), types[0].EvaluationTypeID)
	assert.True(t, types[0].ExamPrice.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, types[0].IsActive)

	assert.Equal(t, domain.EvaluationTypeID(7), types[1].EvaluationTypeID)
	assert.False(t, types[1].IsActive)

	assert.Equal(t, "advanced", types[2].ExamType, "exam type falls back to key")
	assert.Equal(t, domain.EvaluationTypeID(3), types[2].EvaluationTypeID)
	assert.True(t, types[2].IsActive, "missing isActive means active")
}

func TestCombinedConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/config/combined/phase1/basic":
			w.Write([]byte(combinedBody))
		case "/api/config/combined/phase1/gold":
			w.Write([]byte(`{"success":false,"error":"exam type not configured"}`))
		default:
			http.Error(w, `{"success":false,"error":"not found"}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv)

	offer, err := c.CombinedConfig(t.Context(), domain.Phase1, "basic")
	require.NoError(t, err)
	assert.Equal(t, domain.Phase1, offer.Phase)
	assert.Equal(t, domain.EvaluationTypeID(1), offer.EvaluationTypeID)
	assert.True(t, offer.Price.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, offer.TargetProfitPct.Equal(decimal.NewFromInt(10)))
	assert.True(t, offer.MaxTotalLossPct.Equal(decimal.NewFromInt(6)))
	assert.Equal(t, 7, offer.MinDaysRequired)
	assert.Equal(t, 30, offer.MaxTimeDays)
	assert.Equal(t, 3, offer.MaxOpenPositions)

	_, err = c.CombinedConfig(t.Context(), domain.Phase1, "gold")
	assert.ErrorIs(t, err, ErrRejected)

	_, err = c.CombinedConfig(t.Context(), domain.Phase2, "basic")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckHTTPStatus(t *testing.T) {
	t.Parallel()

	assert.NoError(t, checkHTTPStatus(204, nil))
	assert.ErrorIs(t, checkHTTPStatus(400, nil), domain.ErrBadRequest)
	assert.ErrorIs(t, checkHTTPStatus(403, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(429, nil), domain.ErrRateLimited)
	assert.EqualError(t, checkHTTPStatus(502, []byte("bad gateway\n")), "HTTP 502: bad gateway")
}

type staticSigner string

func (s staticSigner) SignMessage([]byte) (string, error) { return string(s), nil }

func TestProvisionSendsSignedRequest(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	var got domain.ProvisionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, provisionPath, r.URL.Path)
		assert.Equal(t, "0xsig", r.Header.Get(HeaderWalletSignature))

		body, _ := io.ReadAll(r.Body)
		assert.True(t, auth.Verify(r.Method, r.URL.Path, string(body),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature), time.Now(), time.Minute))
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Write([]byte(`{"success":true,"data":{"apiWallet":"0xfeed"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, func(cfg *ClientConfig) {
		cfg.HMAC = auth
		cfg.Wallet = staticSigner("0xsig")
	})
	req := domain.ProvisionRequest{
		TraderAddress:   "0x00000000000000000000000000000000000000aa",
		Phase:           domain.Phase1,
		ExamType:        "basic",
		TransactionHash: "0xabc",
		Confirmed:       true,
	}
	res, err := c.Provision(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0xfeed", res.Data["apiWallet"])
	assert.Equal(t, req, got)
}

func TestProvisionFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.ProvisionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.TransactionHash {
		case "0xdeclined":
			w.Write([]byte(`{"success":false,"error":"wallet pool exhausted"}`))
		case "0xlimited":
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"slow down"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv)

	res, err := c.Provision(t.Context(), domain.ProvisionRequest{TransactionHash: "0xdeclined"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "wallet pool exhausted", res.Error)

	res, err = c.Provision(t.Context(), domain.ProvisionRequest{TransactionHash: "0xlimited"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, "slow down", res.Error)

	_, err = c.Provision(t.Context(), domain.ProvisionRequest{TransactionHash: "0xboom"})
	assert.Error(t, err)
}
