package server_test

import (
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/ingestion"
	"OptionEscrow/internal/observability"
	"OptionEscrow/internal/server"
	"OptionEscrow/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type harness struct {
	env    *testutil.Env
	client *server.Client
}

// start serves the escrow service on an in-memory listener.
func start(t *testing.T) *harness {
	t.Helper()
	env := testutil.NewEnv(t, nil)

	deps := &server.ServerDeps{
		Registry:      env.Registry,
		Dispatcher:    ingestion.NewDispatcher(env.Registry, nil, zerolog.Nop()),
		Decimals:      map[string]int32{testutil.Collateral: env.Token.Decimals()},
		DevToken:      env.Token,
		Custody:       testutil.Custody,
		HealthChecker: observability.NewHealthChecker(),
		Logger:        zerolog.Nop(),
	}
	srv := server.NewGRPCServer("bufnet", "", deps)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, lis)

	client, err := server.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		cancel()
	})
	return &harness{env: env, client: client}
}

func createPayload(key string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"idempotency_key": %q,
		"caller": %q,
		"collateral": %q,
		"strike": 105,
		"is_call_like": true,
		"oracle_ref": %q,
		"deposit_end": %d,
		"settle_start": %d,
		"long_amount": 10,
		"short_amount": 100,
		"creator_side": "long"
	}`, key, testutil.Alice.Hex(), testutil.Collateral, testutil.OracleRef,
		testutil.Genesis.Add(time.Hour).Unix(), testutil.Genesis.Add(2*time.Hour).Unix()))
}

// =============================================================================
// gRPC
// =============================================================================

func TestSubmitAndGetTrade(t *testing.T) {
	h := start(t)
	ctx := context.Background()

	var sub server.SubmitResponse
	err := h.client.Call(ctx, "Submit", &server.SubmitRequest{CommandType: "create_trade", Payload: createPayload("k-1")}, &sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.TradeID == nil || *sub.TradeID != 1 {
		t.Fatalf("trade id: got %v, want 1", sub.TradeID)
	}
	if len(sub.Events) == 0 || sub.Events[0] != "TradeCreated" {
		t.Errorf("events: got %v", sub.Events)
	}
	if len(sub.StateHash) != 64 {
		t.Errorf("state hash: got %d hex chars, want 64", len(sub.StateHash))
	}

	var view struct {
		ID    uint64 `json:"id"`
		State string `json:"state"`
		Long  struct {
			Required struct {
				Raw     int64  `json:"raw"`
				Display string `json:"display"`
			} `json:"required"`
		} `json:"long"`
	}
	if err := h.client.Call(ctx, "GetTrade", &server.GetTradeRequest{TradeID: 1}, &view); err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if view.ID != 1 || view.State != "OPEN" {
		t.Errorf("trade: got id=%d state=%s", view.ID, view.State)
	}
	if view.Long.Required.Raw != 10 || view.Long.Required.Display != "0.00001" {
		t.Errorf("long required: got %+v", view.Long.Required)
	}

	// Replaying the same key is a duplicate, not a new trade.
	err = h.client.Call(ctx, "Submit", &server.SubmitRequest{CommandType: "create_trade", Payload: createPayload("k-1")}, &sub)
	if !errors.Is(err, core.ErrDuplicate) {
		t.Errorf("duplicate: got %v, want ErrDuplicate", err)
	}
	if got := h.env.Registry.Sequence(); got != 1 {
		t.Errorf("sequence: got %d, want 1", got)
	}
}

func TestErrorsKeepTheirKind(t *testing.T) {
	h := start(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		req    any
		kind   errs.Kind
		reason errs.Reason
	}{
		{"unknown trade", "GetTrade", &server.GetTradeRequest{TradeID: 999}, errs.KindNotFound, errs.ReasonUnknownTrade},
		{"bad command", "Submit", &server.SubmitRequest{CommandType: "create_trade", Payload: json.RawMessage(`{}`)}, errs.KindValidation, errs.ReasonUnknownCommand},
		{"mint needs admin", "Mint", &server.MintRequest{Caller: testutil.Stranger.Hex(), To: testutil.Alice.Hex(), Amount: "1"}, errs.KindUnauthorized, errs.ReasonMissingRole},
		{"bad address", "GetBalance", &server.BalanceRequest{Account: "alice"}, errs.KindValidation, errs.ReasonBadAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp json.RawMessage
			err := h.client.Call(ctx, tt.method, tt.req, &resp)
			if errs.KindOf(err) != tt.kind {
				t.Fatalf("kind: got %s, want %s (err=%v)", errs.KindOf(err), tt.kind, err)
			}
			if errs.ReasonOf(err) != tt.reason {
				t.Errorf("reason: got %q, want %q", errs.ReasonOf(err), tt.reason)
			}
		})
	}
}

func TestJournalWithoutPostgres(t *testing.T) {
	h := start(t)
	var resp server.GetTradeJournalResponse
	err := h.client.Call(context.Background(), "GetTradeJournal", &server.GetTradeJournalRequest{TradeID: 1}, &resp)
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("got %v, want Unimplemented", status.Code(err))
	}
}

func TestMintAndBalance(t *testing.T) {
	h := start(t)
	ctx := context.Background()

	var bal server.BalanceResponse
	err := h.client.Call(ctx, "Mint", &server.MintRequest{
		Caller: testutil.Admin.Hex(), To: testutil.Alice.Hex(), Amount: "2.5",
	}, &bal)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	want := testutil.Balance + 2_500_000
	if bal.Balance.Raw != want {
		t.Errorf("balance: got %d, want %d", bal.Balance.Raw, want)
	}
	if bal.Allowance.Raw != testutil.Balance {
		t.Errorf("allowance: got %d, want %d", bal.Allowance.Raw, testutil.Balance)
	}
}

func TestGetOracleSources(t *testing.T) {
	h := start(t)
	ctx := context.Background()
	h.env.SetPrice(t, 2_000)

	var resp server.OracleSourcesResponse
	if err := h.client.Call(ctx, "GetOracleSources", &server.GetOracleSourcesRequest{OracleRef: testutil.OracleRef}, &resp); err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("sources: got %d, want 1", len(resp.Sources))
	}
	src := resp.Sources[0]
	if src.Writer != testutil.Admin || src.Price.Value != 2_000 || src.Source != testutil.OracleRef {
		t.Errorf("source: got %+v", src)
	}
}

// =============================================================================
// Error mapping
// =============================================================================

func TestToStatusRoundTrip(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{errs.Validation(errs.ReasonBadFee, "bps=%d", 20_000), codes.InvalidArgument},
		{errs.Conflict(errs.ReasonSideTaken, "long"), codes.Aborted},
		{errs.Unauthorized(errs.ReasonMissingRole, "admin"), codes.PermissionDenied},
		{errs.NotReady(errs.ReasonTooEarly, "wait"), codes.FailedPrecondition},
		{errs.Paused(), codes.Unavailable},
		{errs.NotFound(errs.ReasonUnknownTrade, "7"), codes.NotFound},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		st := server.ToStatus(tt.err)
		if got := status.Code(st); got != tt.code {
			t.Errorf("%v: got %s, want %s", tt.err, got, tt.code)
			continue
		}
		back := server.FromStatus(st)
		if errs.KindOf(back) != errs.KindOf(tt.err) {
			t.Errorf("%v: kind got %s, want %s", tt.err, errs.KindOf(back), errs.KindOf(tt.err))
		}
		if errs.ReasonOf(back) != errs.ReasonOf(tt.err) {
			t.Errorf("%v: reason got %q, want %q", tt.err, errs.ReasonOf(back), errs.ReasonOf(tt.err))
		}
	}
}

// =============================================================================
// HTTP gateway
// =============================================================================

func TestGateway(t *testing.T) {
	h := start(t)
	gw, err := server.NewGateway(h.client, observability.NewHealthChecker())
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	ts := httptest.NewServer(gw)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/commands/create_trade", "application/json", strings.NewReader(string(createPayload("k-http"))))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: got %d, want 200", resp.StatusCode)
	}

	tests := []struct {
		path   string
		status int
		kind   string
	}{
		{"/v1/trades/1", http.StatusOK, ""},
		{"/v1/trades/999", http.StatusNotFound, "not_found"},
		{"/v1/trades/abc", http.StatusBadRequest, "validation"},
		{"/v1/trades?state=OPEN", http.StatusOK, ""},
		{"/v1/status", http.StatusOK, ""},
		{"/v1/fees", http.StatusOK, ""},
		{"/v1/oracles/" + testutil.OracleRef, http.StatusOK, ""},
		{"/v1/oracles/missing", http.StatusNotFound, "not_found"},
		{"/v1/trades/1/journal", http.StatusNotImplemented, ""},
		{"/healthz", http.StatusOK, ""},
		{"/readyz", http.StatusServiceUnavailable, ""},
	}
	for _, tt := range tests {
		resp, err := http.Get(ts.URL + tt.path)
		if err != nil {
			t.Fatalf("get %s: %v", tt.path, err)
		}
		var body server.ErrorBody
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		if resp.StatusCode != tt.status {
			t.Errorf("%s: got %d, want %d", tt.path, resp.StatusCode, tt.status)
		}
		if tt.kind != "" && body.Kind != tt.kind {
			t.Errorf("%s: kind got %q, want %q", tt.path, body.Kind, tt.kind)
		}
	}
}
