package server

import (
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/observability"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxBody caps request bodies accepted by the gateway.
const maxBody = 1 << 20

// ErrorBody is the JSON shape of a failed gateway call.
type ErrorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// NewGateway builds the HTTP/JSON surface. Every route is a thin proxy to
// the matching EscrowService method.
func NewGateway(client *Client, health *observability.HealthChecker) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []route{
		{"POST", "/v1/commands/{type}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
			if err != nil {
				writeError(w, status.Error(codes.InvalidArgument, err.Error()))
				return
			}
			proxy(w, r, client, "Submit", &SubmitRequest{CommandType: p["type"], Payload: body}, &SubmitResponse{})
		}},
		{"GET", "/v1/trades", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			q := r.URL.Query()
			req := &ListTradesRequest{State: q.Get("state"), Participant: q.Get("participant")}
			var err error
			if req.Offset, err = intParam(q.Get("offset")); err != nil {
				writeError(w, err)
				return
			}
			if req.Limit, err = intParam(q.Get("limit")); err != nil {
				writeError(w, err)
				return
			}
			proxy(w, r, client, "ListTrades", req, &ListTradesResponse{})
		}},
		{"GET", "/v1/trades/{id}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			id, err := tradeID(p["id"])
			if err != nil {
				writeError(w, err)
				return
			}
			proxy(w, r, client, "GetTrade", &GetTradeRequest{TradeID: id}, new(json.RawMessage))
		}},
		{"GET", "/v1/trades/{id}/journal", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			id, err := tradeID(p["id"])
			if err != nil {
				writeError(w, err)
				return
			}
			req := &GetTradeJournalRequest{TradeID: id}
			if req.Limit, err = intParam(r.URL.Query().Get("limit")); err != nil {
				writeError(w, err)
				return
			}
			if after := r.URL.Query().Get("after"); after != "" {
				seq, err := strconv.ParseInt(after, 10, 64)
				if err != nil {
					writeError(w, errs.Validation(errs.ReasonBadRequest, "after: %v", err))
					return
				}
				req.AfterSequence = &seq
			}
			proxy(w, r, client, "GetTradeJournal", req, &GetTradeJournalResponse{})
		}},
		{"GET", "/v1/fees", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			proxy(w, r, client, "GetFees", &Empty{}, &FeesResponse{})
		}},
		{"GET", "/v1/oracles/{ref}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			proxy(w, r, client, "GetOracleSources", &GetOracleSourcesRequest{OracleRef: p["ref"]}, &OracleSourcesResponse{})
		}},
		{"GET", "/v1/oracles/{ref}/{index}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			index, err := strconv.ParseUint(p["index"], 10, 64)
			if err != nil {
				writeError(w, errs.Validation(errs.ReasonBadRequest, "index: %v", err))
				return
			}
			proxy(w, r, client, "GetOraclePrice", &GetOraclePriceRequest{OracleRef: p["ref"], Index: index}, &OraclePriceResponse{})
		}},
		{"GET", "/v1/status", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			proxy(w, r, client, "GetStatus", &Empty{}, &StatusResponse{})
		}},
		{"POST", "/v1/dev/mint", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			var req MintRequest
			if decodeBody(w, r, &req) {
				proxy(w, r, client, "Mint", &req, &BalanceResponse{})
			}
		}},
		{"POST", "/v1/dev/approve", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			var req ApproveRequest
			if decodeBody(w, r, &req) {
				proxy(w, r, client, "Approve", &req, &BalanceResponse{})
			}
		}},
		{"GET", "/v1/dev/balances/{address}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			proxy(w, r, client, "GetBalance", &BalanceRequest{Account: p["address"]}, &BalanceResponse{})
		}},
		{"GET", "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			proxy(w, r, client, "VerifyIntegrity", &Empty{}, new(json.RawMessage))
		}},
		{"POST", "/v1/admin/rebuild", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			proxy(w, r, client, "RebuildProjections", &Empty{}, &RebuildResponse{})
		}},
	}
	if health != nil {
		routes = append(routes,
			route{"GET", "/healthz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
				health.LivenessHandler(w, r)
			}},
			route{"GET", "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
				health.ReadinessHandler(w, r)
			}},
		)
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func proxy(w http.ResponseWriter, r *http.Request, client *Client, method string, req, resp any) {
	if err := client.Call(r.Context(), method, req, resp); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, errs.Validation(errs.ReasonBadRequest, "decode body: %v", err))
		return false
	}
	return true
}

func tradeID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, errs.Validation(errs.ReasonUnknownTrade, "trade id %q", s)
	}
	return id, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errs.Validation(errs.ReasonBadRequest, "bad integer %q", s)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err with the HTTP status matching its gRPC code.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(ToStatus(err))
	body := ErrorBody{Code: st.Code().String(), Message: st.Message()}

	var e *errs.Error
	if errors.As(FromStatus(st.Err()), &e) {
		body.Kind = e.Kind.String()
		body.Reason = string(e.Reason)
	}
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), body)
}
