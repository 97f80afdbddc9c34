package server

import (
	"OptionEscrow/internal/access"
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/ingestion"
	"OptionEscrow/internal/projection"
	"OptionEscrow/internal/query"
	"OptionEscrow/internal/token"
	"context"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "optionescrow.v1.EscrowService"

// EscrowServer is the RPC surface of the daemon.
type EscrowServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetTrade(context.Context, *GetTradeRequest) (*query.TradeView, error)
	ListTrades(context.Context, *ListTradesRequest) (*ListTradesResponse, error)
	GetTradeJournal(context.Context, *GetTradeJournalRequest) (*GetTradeJournalResponse, error)
	GetFees(context.Context, *Empty) (*FeesResponse, error)
	GetOraclePrice(context.Context, *GetOraclePriceRequest) (*OraclePriceResponse, error)
	GetOracleSources(context.Context, *GetOracleSourcesRequest) (*OracleSourcesResponse, error)
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
	Mint(context.Context, *MintRequest) (*BalanceResponse, error)
	Approve(context.Context, *ApproveRequest) (*BalanceResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	RebuildProjections(context.Context, *Empty) (*RebuildResponse, error)
}

// unary builds a MethodDesc around a typed handler.
func unary[Req any](name string, call func(EscrowServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
			}
			s := srv.(EscrowServer)
			if interceptor == nil {
				return call(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(s, ctx, r.(*Req))
			})
		},
	}
}

// EscrowServiceDesc describes EscrowServer for grpc.Server.RegisterService.
var EscrowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EscrowServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", func(s EscrowServer, ctx context.Context, r *SubmitRequest) (any, error) { return s.Submit(ctx, r) }),
		unary("GetTrade", func(s EscrowServer, ctx context.Context, r *GetTradeRequest) (any, error) { return s.GetTrade(ctx, r) }),
		unary("ListTrades", func(s EscrowServer, ctx context.Context, r *ListTradesRequest) (any, error) {
			return s.ListTrades(ctx, r)
		}),
		unary("GetTradeJournal", func(s EscrowServer, ctx context.Context, r *GetTradeJournalRequest) (any, error) {
			return s.GetTradeJournal(ctx, r)
		}),
		unary("GetFees", func(s EscrowServer, ctx context.Context, r *Empty) (any, error) { return s.GetFees(ctx, r) }),
		unary("GetOraclePrice", func(s EscrowServer, ctx context.Context, r *GetOraclePriceRequest) (any, error) {
			return s.GetOraclePrice(ctx, r)
		}),
		unary("GetOracleSources", func(s EscrowServer, ctx context.Context, r *GetOracleSourcesRequest) (any, error) {
			return s.GetOracleSources(ctx, r)
		}),
		unary("GetStatus", func(s EscrowServer, ctx context.Context, r *Empty) (any, error) { return s.GetStatus(ctx, r) }),
		unary("Mint", func(s EscrowServer, ctx context.Context, r *MintRequest) (any, error) { return s.Mint(ctx, r) }),
		unary("Approve", func(s EscrowServer, ctx context.Context, r *ApproveRequest) (any, error) { return s.Approve(ctx, r) }),
		unary("GetBalance", func(s EscrowServer, ctx context.Context, r *BalanceRequest) (any, error) { return s.GetBalance(ctx, r) }),
		unary("VerifyIntegrity", func(s EscrowServer, ctx context.Context, r *Empty) (any, error) { return s.VerifyIntegrity(ctx, r) }),
		unary("RebuildProjections", func(s EscrowServer, ctx context.Context, r *Empty) (any, error) {
			return s.RebuildProjections(ctx, r)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "optionescrow/v1/escrow",
}

// escrowService implements EscrowServer on top of the registry. Trade and
// fee reads are served live from the registry; journal and integrity reads
// need the query service.
type escrowService struct {
	registry   *core.Registry
	dispatcher *ingestion.Dispatcher
	queries    *query.QueryService
	db         *sql.DB
	decimals   map[string]int32
	devToken   *token.Token
	custody    common.Address
	logger     zerolog.Logger
}

func (s *escrowService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	out, err := s.dispatcher.Submit(ctx, command.Type(req.CommandType), req.Payload)
	if err != nil {
		return nil, err
	}
	resp := &SubmitResponse{
		Sequence:  out.Envelope.Sequence,
		StateHash: hex.EncodeToString(out.Envelope.StateHash[:]),
		TradeID:   out.Envelope.TradeID,
	}
	for _, e := range out.Events {
		resp.Events = append(resp.Events, e.EventType().String())
	}
	if out.Trade != nil {
		v := query.ViewOf(out.Trade, s.decimals[out.Trade.Collateral], out.Envelope.Sequence)
		resp.Trade = &v
	}
	return resp, nil
}

func (s *escrowService) GetTrade(_ context.Context, req *GetTradeRequest) (*query.TradeView, error) {
	t, err := s.registry.GetTrade(req.TradeID)
	if err != nil {
		return nil, err
	}
	v := query.ViewOf(t, s.decimals[t.Collateral], s.registry.Sequence()-1)
	return &v, nil
}

func (s *escrowService) ListTrades(_ context.Context, req *ListTradesRequest) (*ListTradesResponse, error) {
	f := core.TradeFilter{Offset: req.Offset, Limit: req.Limit}
	if req.State != "" {
		var st core.TradeState
		if err := st.UnmarshalText([]byte(strings.ToUpper(req.State))); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		f.State = &st
	}
	if req.Participant != "" {
		addr, err := parseAddress(req.Participant)
		if err != nil {
			return nil, err
		}
		f.Participant = &addr
	}
	if f.Limit <= 0 || f.Limit > query.DefaultLimit {
		f.Limit = query.DefaultLimit
	}

	asOf := s.registry.Sequence() - 1
	resp := &ListTradesResponse{Trades: []query.TradeView{}}
	for _, t := range s.registry.ListTrades(f) {
		resp.Trades = append(resp.Trades, query.ViewOf(t, s.decimals[t.Collateral], asOf))
	}
	return resp, nil
}

func (s *escrowService) GetTradeJournal(ctx context.Context, req *GetTradeJournalRequest) (*GetTradeJournalResponse, error) {
	if s.queries == nil {
		return nil, status.Error(codes.Unimplemented, "journal queries need postgres")
	}
	entries, err := s.queries.GetTradeJournal(ctx, req.TradeID, req.Limit, req.AfterSequence)
	if err != nil {
		return nil, err
	}
	return &GetTradeJournalResponse{Entries: entries}, nil
}

func (s *escrowService) GetFees(_ context.Context, _ *Empty) (*FeesResponse, error) {
	fees := s.registry.FeeConfig()
	resp := &FeesResponse{
		FeeView: query.FeeView{
			FeeBps:       fees.FeeBps,
			FeeDecimals:  fees.FeeDecimals,
			Percentage:   query.FeePercentage(fees.FeeBps, fees.FeeDecimals),
			Receiver:     fees.Receiver.Hex(),
			Paused:       s.registry.Paused(),
			AsOfSequence: s.registry.Sequence() - 1,
		},
	}
	for _, symbol := range s.registry.Collaterals() {
		dec := s.decimals[symbol]
		resp.Collaterals = append(resp.Collaterals, CollateralFees{
			Collateral:  symbol,
			Collectable: query.NewAmount(s.registry.CollectableFees(symbol), dec),
			Escrowed:    query.NewAmount(s.registry.Escrowed(symbol), dec),
		})
	}
	return resp, nil
}

func (s *escrowService) GetOraclePrice(ctx context.Context, req *GetOraclePriceRequest) (*OraclePriceResponse, error) {
	p, err := s.registry.LatestPrice(ctx, req.OracleRef, req.Index)
	if err != nil {
		return nil, err
	}
	return &OraclePriceResponse{OracleRef: req.OracleRef, Index: req.Index, Price: p.Value, Timestamp: p.Timestamp}, nil
}

func (s *escrowService) GetOracleSources(_ context.Context, req *GetOracleSourcesRequest) (*OracleSourcesResponse, error) {
	recs, err := s.registry.OracleRecords(req.OracleRef)
	if err != nil {
		return nil, err
	}
	return &OracleSourcesResponse{OracleRef: req.OracleRef, Sources: recs}, nil
}

func (s *escrowService) GetStatus(_ context.Context, _ *Empty) (*StatusResponse, error) {
	hash := s.registry.StateHash()
	resp := &StatusResponse{
		Sequence:  s.registry.Sequence(),
		StateHash: hex.EncodeToString(hash[:]),
		Paused:    s.registry.Paused(),
		Roles:     make(map[string][]string, len(access.AllRoles)),
	}
	for _, role := range access.AllRoles {
		members := []string{}
		for _, m := range s.registry.RoleMembers(role) {
			members = append(members, m.Hex())
		}
		resp.Roles[string(role)] = members
	}
	return resp, nil
}

// --- development token ---

func (s *escrowService) requireDevToken() error {
	if s.devToken == nil {
		return status.Error(codes.Unimplemented, "no in-process collateral token")
	}
	return nil
}

func (s *escrowService) Mint(_ context.Context, req *MintRequest) (*BalanceResponse, error) {
	if err := s.requireDevToken(); err != nil {
		return nil, err
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		return nil, err
	}
	if !s.registry.HasRole(access.RoleAdmin, caller) {
		return nil, errs.Unauthorized(errs.ReasonMissingRole, "%s lacks %s", caller.Hex(), access.RoleAdmin)
	}
	to, err := parseAddress(req.To)
	if err != nil {
		return nil, err
	}
	amount, err := s.devToken.ParseUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.devToken.Mint(to, amount); err != nil {
		return nil, err
	}
	s.logger.Info().Str("to", to.Hex()).Str("amount", req.Amount).Msg("dev mint")
	return s.balance(to), nil
}

func (s *escrowService) Approve(_ context.Context, req *ApproveRequest) (*BalanceResponse, error) {
	if err := s.requireDevToken(); err != nil {
		return nil, err
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		return nil, err
	}
	amount, err := s.devToken.ParseUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.devToken.Approve(owner, s.custody, amount); err != nil {
		return nil, err
	}
	return s.balance(owner), nil
}

func (s *escrowService) GetBalance(_ context.Context, req *BalanceRequest) (*BalanceResponse, error) {
	if err := s.requireDevToken(); err != nil {
		return nil, err
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		return nil, err
	}
	return s.balance(account), nil
}

func (s *escrowService) balance(account common.Address) *BalanceResponse {
	dec := s.devToken.Decimals()
	return &BalanceResponse{
		Account:   account.Hex(),
		Balance:   query.NewAmount(s.devToken.BalanceOf(account), dec),
		Allowance: query.NewAmount(s.devToken.Allowance(account, s.custody), dec),
	}
}

// --- admin ---

func (s *escrowService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	if s.queries == nil {
		return nil, status.Error(codes.Unimplemented, "integrity checks need postgres")
	}
	return s.queries.VerifyIntegrity(ctx)
}

func (s *escrowService) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	if s.db == nil {
		return nil, status.Error(codes.Unimplemented, "projections need postgres")
	}
	if err := projection.Rebuild(ctx, s.db, s.logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild: %v", err)
	}
	return &RebuildResponse{Rebuilt: true}, nil
}

func parseAddress(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, errs.Validation(errs.ReasonBadAddress, "%q", v)
	}
	return common.HexToAddress(v), nil
}
