package core

import (
	"OptionEscrow/internal/access"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/escrow"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/ledger"
	fpmath "OptionEscrow/internal/math"
	"OptionEscrow/internal/observability"
	"OptionEscrow/internal/oracle"
	"OptionEscrow/internal/payoff"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// ErrDuplicate is returned when a command's idempotency key was already applied.
// Callers treat it as success without a new output.
var ErrDuplicate = errors.New("duplicate command")

// Clock is the call-time clock used for every time gate.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Config holds deployment-time registry parameters.
type Config struct {
	// Admin receives every role at construction
	Admin common.Address

	// Custody is the address that holds escrowed collateral
	Custody common.Address

	// AutoEscrowOnCreate pulls the creator's side at CreateTrade
	AutoEscrowOnCreate bool

	FeeBps      int64
	FeeDecimals int
	FeeReceiver common.Address

	IdempotencyCapacity int

	// OracleTimeout bounds the price read at settlement, which runs under
	// the registry lock. Zero disables the bound.
	OracleTimeout time.Duration
}

// DefaultConfig returns the market-style configuration: creators are escrowed
// on create and fees are expressed with four decimals.
func DefaultConfig() Config {
	return Config{
		AutoEscrowOnCreate:  true,
		FeeDecimals:         4,
		IdempotencyCapacity: 100_000,
		OracleTimeout:       5 * time.Second,
	}
}

// FeeConfig is the fee-configuration record.
type FeeConfig struct {
	FeeBps      int64          `json:"fee_bps"`
	FeeDecimals int            `json:"fee_decimals"`
	Receiver    common.Address `json:"receiver"`
}

// Output is everything one successful mutation produced.
type Output struct {
	Envelope *event.EventEnvelope
	Batches  []*ledger.Batch
	Events   []event.Event
	Trade    *Trade
	Fees     FeeConfig
	Paused   bool
}

// Event returns the first event of type t, or nil.
func (o *Output) Event(t event.EventType) event.Event {
	for _, e := range o.Events {
		if e.EventType() == t {
			return e
		}
	}
	return nil
}

// Registry is the trade state machine. All mutations are serialized by mu and
// either apply completely or leave no effect.
type Registry struct {
	mu sync.Mutex

	cfg      Config
	clock    Clock
	sequence int64
	hasher   *StateHasher
	custody  *escrow.Ledger
	roles    *access.Roles
	breaker  access.Pausable
	fees     FeeConfig

	collaterals map[string]escrow.Collateral
	oracles     map[string]oracle.Adapter
	// logged oracle records waiting for their adapter to be registered
	pendingOracles map[string][]oracle.Record
	trades         map[uint64]*Trade
	nextID         uint64

	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output
}

func NewRegistry(
	cfg Config,
	clock Clock,
	persistChan, projectionChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Registry, error) {
	if cfg.FeeDecimals < 0 || cfg.FeeDecimals > fpmath.MaxDecimals {
		return nil, errs.Validation(errs.ReasonBadFee, "fee decimals %d", cfg.FeeDecimals)
	}
	if err := checkFeeBps(cfg.FeeBps, cfg.FeeDecimals); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}

	roles := access.NewRoles()
	for _, role := range access.AllRoles {
		roles.Grant(role, cfg.Admin)
	}

	return &Registry{
		cfg:            cfg,
		clock:          clock,
		hasher:         NewStateHasher(),
		custody:        escrow.NewLedger(cfg.Custody),
		roles:          roles,
		fees:           FeeConfig{FeeBps: cfg.FeeBps, FeeDecimals: cfg.FeeDecimals, Receiver: cfg.FeeReceiver},
		collaterals:    make(map[string]escrow.Collateral),
		oracles:        make(map[string]oracle.Adapter),
		pendingOracles: make(map[string][]oracle.Record),
		trades:         make(map[uint64]*Trade),
		nextID:         1,
		idempotency:    NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker, metrics, logger),
		metrics:        metrics,
		logger:         logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}, nil
}

// RoleChange is one logged grant or revocation.
type RoleChange struct {
	Grant   bool
	Role    access.Role
	Account common.Address
}

// RestoreState is the registry state recovered from the event log.
type RestoreState struct {
	NextSequence int64
	PrevHash     [32]byte
	Trades       []*Trade
	Journals     []ledger.Journal
	Fees         *FeeConfig // nil keeps the configured fees
	Paused       bool
	Roles        []RoleChange
	// Oracles holds the logged records of every adapter, positioned by index
	Oracles map[string][]oracle.Record
}

// ApplyEvents folds logged events into the non-trade parts of the state:
// fees, pause flag, role changes and oracle records.
func (s *RestoreState) ApplyEvents(events []event.Event) error {
	for _, e := range events {
		switch ev := e.(type) {
		case *event.FeeConfigUpdated:
			s.Fees = &FeeConfig{FeeBps: ev.FeeBps, FeeDecimals: ev.FeeDecimals, Receiver: ev.Receiver}
		case *event.Paused:
			s.Paused = true
		case *event.Unpaused:
			s.Paused = false
		case *event.RoleGranted:
			role, err := access.ParseRole(ev.Role)
			if err != nil {
				return err
			}
			s.Roles = append(s.Roles, RoleChange{Grant: true, Role: role, Account: ev.Account})
		case *event.RoleRevoked:
			role, err := access.ParseRole(ev.Role)
			if err != nil {
				return err
			}
			s.Roles = append(s.Roles, RoleChange{Role: role, Account: ev.Account})
		case *event.OracleCreated:
			rec := s.oracleRecord(ev.OracleRef, ev.Index)
			rec.Source = ev.Source
			rec.Writer = ev.Writer
		case *event.OracleUpdated:
			s.oracleRecord(ev.OracleRef, ev.Index).Price = oracle.Price{Value: ev.Price, Timestamp: ev.Timestamp}
		case *event.OracleWriterSet:
			s.oracleRecord(ev.OracleRef, ev.Index).Writer = ev.Writer
		}
	}
	return nil
}

func (s *RestoreState) oracleRecord(ref string, index uint64) *oracle.Record {
	if s.Oracles == nil {
		s.Oracles = make(map[string][]oracle.Record)
	}
	recs := s.Oracles[ref]
	for uint64(len(recs)) <= index {
		recs = append(recs, oracle.Record{Index: uint64(len(recs))})
	}
	s.Oracles[ref] = recs
	return &recs[index]
}

// Restore loads recovered state into a registry that has not applied any
// operation yet. Collaterals and oracles are registered separately.
func (r *Registry) Restore(s RestoreState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sequence != 0 || len(r.trades) != 0 {
		return fmt.Errorf("restore: registry already at sequence %d", r.sequence)
	}

	claimed := make(map[uint64][2]bool, len(s.Trades))
	for _, t := range s.Trades {
		r.trades[t.ID] = t.Clone()
		claimed[t.ID] = t.Claimed
		if t.ID >= r.nextID {
			r.nextID = t.ID + 1
		}
	}
	if err := r.custody.Restore(s.Journals, claimed); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}

	for _, c := range s.Roles {
		if c.Grant {
			r.roles.Grant(c.Role, c.Account)
		} else {
			r.roles.Revoke(c.Role, c.Account)
		}
	}
	if s.Fees != nil {
		r.fees = *s.Fees
	}
	if s.Paused {
		r.breaker.Pause()
	}
	for ref, records := range s.Oracles {
		adapter, ok := r.oracles[ref]
		if !ok {
			r.pendingOracles[ref] = records
			r.logger.Warn().Str("oracle", ref).Int("records", len(records)).Msg("logged oracle not registered, restore deferred")
			continue
		}
		if err := restoreOracle(ref, adapter, records); err != nil {
			return err
		}
	}

	r.sequence = s.NextSequence
	r.hasher.prevHash = s.PrevHash
	if r.metrics != nil {
		r.metrics.Sequence.Set(float64(r.sequence))
		r.refreshGauges()
	}
	r.logger.Info().
		Int64("sequence", r.sequence).
		Int("trades", len(s.Trades)).
		Int("journals", len(s.Journals)).
		Bool("paused", s.Paused).
		Msg("registry restored")
	return nil
}

// WarmIdempotency preloads recently applied composite keys.
func (r *Registry) WarmIdempotency(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idempotency.Warm(keys)
}

func checkFeeBps(bps int64, decimals int) error {
	scale, err := fpmath.Pow10(decimals)
	if err != nil {
		return errs.Validation(errs.ReasonBadFee, "fee decimals %d", decimals)
	}
	if bps < 0 || bps > scale {
		return errs.Validation(errs.ReasonBadFee, "fee %d outside [0, %d]", bps, scale)
	}
	return nil
}

// --- Setup ---

// RegisterCollateral makes an asset available to new trades under symbol.
func (r *Registry) RegisterCollateral(caller common.Address, symbol string, asset escrow.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if symbol == "" || asset == nil {
		return errs.Validation(errs.ReasonUnknownAsset, "empty collateral")
	}
	if _, ok := r.collaterals[symbol]; ok {
		return errs.Conflict(errs.ReasonDuplicate, "collateral %s", symbol)
	}
	r.collaterals[symbol] = escrow.Collateral{Symbol: symbol, Asset: asset}
	r.logger.Info().Str("collateral", symbol).Msg("collateral registered")
	return nil
}

// RegisterOracle binds an adapter to ref.
func (r *Registry) RegisterOracle(caller common.Address, ref string, adapter oracle.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.roles.Require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if ref == "" || adapter == nil {
		return errs.Validation(errs.ReasonUnknownOracle, "empty oracle")
	}
	if _, ok := r.oracles[ref]; ok {
		return errs.Conflict(errs.ReasonDuplicate, "oracle %s", ref)
	}
	if records, ok := r.pendingOracles[ref]; ok {
		if err := restoreOracle(ref, adapter, records); err != nil {
			return err
		}
		delete(r.pendingOracles, ref)
	}
	r.oracles[ref] = adapter
	r.logger.Info().Str("oracle", ref).Msg("oracle registered")
	return nil
}

func restoreOracle(ref string, adapter oracle.Adapter, records []oracle.Record) error {
	restorer, ok := adapter.(oracle.Restorer)
	if !ok {
		return fmt.Errorf("restore oracle %s: adapter %T keeps no records", ref, adapter)
	}
	if err := restorer.RestoreRecords(records); err != nil {
		return fmt.Errorf("restore oracle %s: %w", ref, err)
	}
	return nil
}

// --- Pipeline ---

// mutation is what an operation hands back to commit.
type mutation struct {
	batches []*ledger.Batch
	events  []event.Event
	trade   *Trade
}

func (m *mutation) add(b *ledger.Batch) {
	if b != nil {
		m.batches = append(m.batches, b)
	}
}

// run executes one mutating operation under the lock: dedup, apply, hash,
// emit, mark processed.
func (r *Registry) run(ctx context.Context, cmd commandMeta, apply func(now time.Time, ref ledger.BatchRef) (*mutation, error)) (*Output, error) {
	start := time.Now()
	op := cmd.op

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.idempotency.IsDuplicate(ctx, op, cmd.key) {
		r.reject(op, ErrDuplicate)
		return nil, ErrDuplicate
	}

	now := r.clock.Now()
	ref := ledger.BatchRef{EventRef: cmd.key, Sequence: r.sequence, Timestamp: now.UnixMicro()}
	if ref.EventRef == "" {
		ref.EventRef = fmt.Sprintf("%s:%d", op, r.sequence)
	}

	m, err := apply(now, ref)
	if err != nil {
		r.reject(op, err)
		return nil, err
	}

	out, err := r.commit(op, cmd.key, now, m)
	if err != nil {
		panic(fmt.Sprintf("FATAL: commit %s: %v", op, err))
	}
	r.emit(*out)
	r.idempotency.MarkProcessed(op, cmd.key)

	if r.metrics != nil {
		r.metrics.OpsApplied.WithLabelValues(op).Inc()
		r.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		r.metrics.Sequence.Set(float64(r.sequence))
		for _, b := range m.batches {
			for _, j := range b.Journals {
				r.metrics.JournalsWritten.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
		r.refreshGauges()
	}

	r.logger.Info().
		Str("op", op).
		Int64("sequence", out.Envelope.Sequence).
		Str("caller", cmd.caller.Hex()).
		Int("batches", len(m.batches)).
		Msg("applied")
	return out, nil
}

// commit runs the post-checks, advances the hash chain and builds the output.
func (r *Registry) commit(op, key string, now time.Time, m *mutation) (*Output, error) {
	tracker := r.custody.Tracker()
	validator := ledger.NewInvariantValidator(tracker)
	if err := validator.ValidateGlobalBalance(); err != nil {
		return nil, err
	}
	if m.trade != nil {
		if err := validator.ValidateTradeAccounts(m.trade.ID, m.trade.Collateral); err != nil {
			return nil, err
		}
		if err := validator.ValidateCustodyNonNegative(m.trade.Collateral); err != nil {
			return nil, err
		}
	}

	payload, err := event.EncodeAll(m.events)
	if err != nil {
		return nil, err
	}

	var d digest
	d.str(op)
	d.accounts(tracker, m.batches)
	d.trade(m.trade)
	d.flag(r.breaker.Paused())
	d.i64(r.fees.FeeBps)
	d.buf = append(d.buf, r.fees.Receiver.Bytes()...)

	prev := r.hasher.GetPrevHash()
	hash := r.hasher.ComputeHash(r.sequence, d.buf)

	env := &event.EventEnvelope{
		Sequence:       r.sequence,
		IdempotencyKey: key,
		CommandType:    op,
		Timestamp:      now,
		Payload:        payload,
		StateHash:      hash,
		PrevHash:       prev,
	}
	out := &Output{Envelope: env, Batches: m.batches, Events: m.events, Fees: r.fees, Paused: r.breaker.Paused()}
	if m.trade != nil {
		id := m.trade.ID
		env.TradeID = &id
		out.Trade = m.trade.Clone()
	}
	r.sequence++
	return out, nil
}

// emit blocks on the persist channel and never blocks on projections.
func (r *Registry) emit(out Output) {
	if r.persistChan != nil {
		r.persistChan <- out
	}
	if r.projectionChan != nil {
		select {
		case r.projectionChan <- out:
		default:
			if r.metrics != nil {
				r.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

func (r *Registry) reject(op string, err error) {
	kind := errs.KindOf(err).String()
	if errors.Is(err, ErrDuplicate) {
		kind = "duplicate"
	}
	if r.metrics != nil {
		r.metrics.OpsRejected.WithLabelValues(op, kind).Inc()
	}
	r.logger.Debug().Str("op", op).Str("kind", kind).Err(err).Msg("rejected")
}

func (r *Registry) refreshGauges() {
	counts := make(map[TradeState]int)
	for _, t := range r.trades {
		counts[t.State]++
	}
	for _, s := range []TradeState{StateOpen, StateCancelled, StateMatched, StateSettled} {
		r.metrics.TradesByState.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
	tracker := r.custody.Tracker()
	for symbol := range r.collaterals {
		r.metrics.EscrowedBalance.WithLabelValues(symbol).Set(float64(tracker.GetCustody(symbol)))
	}
	if r.breaker.Paused() {
		r.metrics.PausedGauge.Set(1)
	} else {
		r.metrics.PausedGauge.Set(0)
	}
}

// --- Lookups (callers hold mu) ---

func (r *Registry) trade(id uint64) (*Trade, error) {
	t, ok := r.trades[id]
	if !ok {
		return nil, errs.NotFound(errs.ReasonUnknownTrade, "trade %d", id)
	}
	return t, nil
}

func (r *Registry) collateral(symbol string) (escrow.Collateral, error) {
	c, ok := r.collaterals[symbol]
	if !ok {
		return escrow.Collateral{}, errs.NotFound(errs.ReasonUnknownAsset, "collateral %q", symbol)
	}
	return c, nil
}

func (r *Registry) oracle(ref string) (oracle.Adapter, error) {
	a, ok := r.oracles[ref]
	if !ok {
		return nil, errs.NotFound(errs.ReasonUnknownOracle, "oracle %q", ref)
	}
	return a, nil
}

// --- Reads ---

// GetTrade returns a copy of the trade record.
func (r *Registry) GetTrade(id uint64) (*Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.trade(id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// TradeFilter narrows ListTrades. Zero values match everything.
type TradeFilter struct {
	State       *TradeState
	Participant *common.Address
	Offset      int
	Limit       int
}

// ListTrades returns copies of matching trades ordered by id.
func (r *Registry) ListTrades(f TradeFilter) []*Trade {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint64, 0, len(r.trades))
	for id := range r.trades {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*Trade, 0)
	skipped := 0
	for _, id := range ids {
		t := r.trades[id]
		if f.State != nil && t.State != *f.State {
			continue
		}
		if f.Participant != nil && !t.IsParticipant(*f.Participant) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, t.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (r *Registry) FeeConfig() FeeConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fees
}

// CollectableFees is the undrained fee pool of one collateral.
func (r *Registry) CollectableFees(symbol string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.custody.Tracker().GetFees(symbol)
}

// Escrowed is the total collateral held in custody for symbol.
func (r *Registry) Escrowed(symbol string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.custody.Tracker().GetCustody(symbol)
}

// TradeBalance is what the ledger still holds for a trade across both sides.
func (r *Registry) TradeBalance(id uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.trade(id)
	if err != nil {
		return 0, err
	}
	return r.custody.Tracker().GetTradeBalance(id, t.Collateral), nil
}

func (r *Registry) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breaker.Paused()
}

func (r *Registry) HasRole(role access.Role, account common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles.Has(role, account)
}

// RoleMembers lists the accounts holding role.
func (r *Registry) RoleMembers(role access.Role) []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles.Members(role)
}

// Sequence is the sequence the next mutation will receive.
func (r *Registry) Sequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// StateHash is the tip of the hash chain.
func (r *Registry) StateHash() [32]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasher.GetPrevHash()
}

// Collaterals lists registered collateral symbols.
func (r *Registry) Collaterals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.collaterals))
	for s := range r.collaterals {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// OracleRecords lists the indices of an adapter that can enumerate them.
func (r *Registry) OracleRecords(ref string) ([]oracle.Record, error) {
	r.mu.Lock()
	a, err := r.oracle(ref)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	lister, ok := a.(oracle.Lister)
	if !ok {
		return nil, errs.NotFound(errs.ReasonUnknownIndex, "oracle %s does not list indices", ref)
	}
	return lister.Records(), nil
}

// LatestPrice reads an oracle index. The adapter call happens outside the lock.
func (r *Registry) LatestPrice(ctx context.Context, ref string, index uint64) (oracle.Price, error) {
	r.mu.Lock()
	a, err := r.oracle(ref)
	r.mu.Unlock()
	if err != nil {
		return oracle.Price{}, err
	}
	return a.GetLatestPrice(ctx, index)
}

// --- Settlement math ---

// allocation computes the settlement split and the protocol fee. The buyer's
// fee is taken from the digital paid out of the seller's deposit; the
// seller's fee from the premium. A seller's own deposit returning to them is
// never charged.
func (r *Registry) allocation(t *Trade, price int64) (ledger.Allocation, payoff.Split, error) {
	split, err := payoff.Compute(t.Payoff, price, t.LongRequiredAmount, t.ShortRequiredAmount)
	if err != nil {
		return ledger.Allocation{}, payoff.Split{}, err
	}

	alloc := ledger.Allocation{
		LongDeposit:  t.LongRequiredAmount,
		ShortDeposit: t.ShortRequiredAmount,
		BuyerShare:   split.BuyerShare,
	}
	if r.fees.FeeBps == 0 {
		return alloc, split, nil
	}
	if alloc.BuyerFee, err = fpmath.BasisPointsOf(split.BuyerShare, r.fees.FeeBps, r.fees.FeeDecimals); err != nil {
		return ledger.Allocation{}, payoff.Split{}, errs.Validation(errs.ReasonAmountOverflow, "buyer fee: %v", err)
	}
	if alloc.SellerFee, err = fpmath.BasisPointsOf(t.LongRequiredAmount, r.fees.FeeBps, r.fees.FeeDecimals); err != nil {
		return ledger.Allocation{}, payoff.Split{}, errs.Validation(errs.ReasonAmountOverflow, "seller fee: %v", err)
	}
	return alloc, split, nil
}
