package core

import (
	"OptionEscrow/internal/access"
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/ledger"
	fpmath "OptionEscrow/internal/math"
	"OptionEscrow/internal/oracle"
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type commandMeta struct {
	op     string
	key    string
	caller common.Address
}

func metaOf(c command.Command) commandMeta {
	return commandMeta{op: string(c.CommandType()), key: c.IdempotencyKey(), caller: c.Caller()}
}

// Execute dispatches an inbound command to its typed operation.
func (r *Registry) Execute(ctx context.Context, cmd command.Command) (*Output, error) {
	switch c := cmd.(type) {
	case *command.CreateTrade:
		return r.CreateTrade(ctx, c)
	case *command.FundSide:
		return r.FundSide(ctx, c)
	case *command.MatchOffer:
		return r.MatchOffer(ctx, c)
	case *command.CancelTrade:
		return r.CancelTrade(ctx, c)
	case *command.Settle:
		return r.Settle(ctx, c)
	case *command.Claim:
		return r.Claim(ctx, c)
	case *command.CollectFees:
		return r.CollectFees(ctx, c)
	case *command.Pause:
		return r.Pause(ctx, c)
	case *command.Unpause:
		return r.Unpause(ctx, c)
	case *command.SetFeePercentage:
		return r.SetFeePercentage(ctx, c)
	case *command.SetFeeReceiver:
		return r.SetFeeReceiver(ctx, c)
	case *command.GrantRole:
		return r.GrantRole(ctx, c)
	case *command.RevokeRole:
		return r.RevokeRole(ctx, c)
	case *command.InsertOracleSource:
		return r.InsertOracleSource(ctx, c)
	case *command.SetOraclePrice:
		return r.SetOraclePrice(ctx, c)
	case *command.SetOracleWriter:
		return r.SetOracleWriter(ctx, c)
	default:
		return nil, errs.Validation(errs.ReasonUnknownCommand, "%T", cmd)
	}
}

// --- Trade lifecycle ---

// CreateTrade opens a trade in state Open. With AutoEscrowOnCreate the
// creator's side is funded in the same call.
func (r *Registry) CreateTrade(ctx context.Context, c *command.CreateTrade) (*Output, error) {
	return r.run(ctx, metaOf(c), func(now time.Time, ref ledger.BatchRef) (*mutation, error) {
		if err := r.breaker.WhenNotPaused(); err != nil {
			return nil, err
		}
		col, err := r.collateral(c.Collateral)
		if err != nil {
			return nil, err
		}
		if _, err := r.oracle(c.Payoff.OracleRef); err != nil {
			return nil, err
		}
		if c.DepositEnd >= c.SettleStart {
			return nil, errs.Validation(errs.ReasonBadTimeWindow, "deposit end %d, settle start %d", c.DepositEnd, c.SettleStart)
		}
		if c.LongAmount <= 0 || c.ShortAmount <= 0 {
			return nil, errs.Validation(errs.ReasonNonPositive, "long %d, short %d", c.LongAmount, c.ShortAmount)
		}
		if _, err := fpmath.AddChecked(c.LongAmount, c.ShortAmount); err != nil {
			return nil, errs.Validation(errs.ReasonAmountOverflow, "long %d + short %d", c.LongAmount, c.ShortAmount)
		}
		if !c.CreatorSide.Valid() {
			return nil, errs.Validation(errs.ReasonBadSide, "side %d", c.CreatorSide)
		}
		if c.Caller() == (common.Address{}) {
			return nil, errs.Validation(errs.ReasonBadAddress, "zero creator")
		}

		t := &Trade{
			ID:                  r.nextID,
			Collateral:          c.Collateral,
			Creator:             c.Caller(),
			LongRequiredAmount:  c.LongAmount,
			ShortRequiredAmount: c.ShortAmount,
			DepositEnd:          c.DepositEnd,
			SettleStart:         c.SettleStart,
			Payoff:              c.Payoff,
			CreatorSide:         c.CreatorSide,
			State:               StateOpen,
			CreatedAt:           now.Unix(),
		}

		m := &mutation{trade: t}
		m.events = append(m.events, &event.TradeCreated{
			TradeID:     t.ID,
			Creator:     t.Creator,
			Collateral:  t.Collateral,
			LongAmount:  t.LongRequiredAmount,
			ShortAmount: t.ShortRequiredAmount,
			DepositEnd:  t.DepositEnd,
			SettleStart: t.SettleStart,
		})

		if r.cfg.AutoEscrowOnCreate {
			if now.Unix() >= t.DepositEnd {
				return nil, errs.Validation(errs.ReasonDepositClosed, "deposit end %d already passed", t.DepositEnd)
			}
			batch, err := r.custody.Deposit(ctx, ref, col, t.ID, c.CreatorSide, t.Creator, t.RequiredAmount(c.CreatorSide))
			if err != nil {
				return nil, err
			}
			m.add(batch)
			t.setParticipant(c.CreatorSide, t.Creator)
			t.Funded[c.CreatorSide] = true
			m.events = append(m.events, &event.TradeFunded{
				TradeID: t.ID,
				Side:    c.CreatorSide,
				Funder:  t.Creator,
				Amount:  t.RequiredAmount(c.CreatorSide),
			})
		}

		r.trades[t.ID] = t
		r.nextID++
		return m, nil
	})
}

// FundSide escrows the required amount for side from the caller.
func (r *Registry) FundSide(ctx context.Context, c *command.FundSide) (*Output, error) {
	return r.run(ctx, metaOf(c), func(now time.Time, ref ledger.BatchRef) (*mutation, error) {
		if err := r.breaker.WhenNotPaused(); err != nil {
			return nil, err
		}
		if !c.Side.Valid() {
			return nil, errs.Validation(errs.ReasonBadSide, "side %d", c.Side)
		}
		t, err := r.trade(c.TradeID)
		if err != nil {
			return nil, err
		}
		return r.fund(ctx, ref, now, t, c.Side, c.Caller())
	})
}

// MatchOffer funds whichever side of an open trade is still empty, the
// counterparty's side first.
func (r *Registry) MatchOffer(ctx context.Context, c *command.MatchOffer) (*Output, error) {
	return r.run(ctx, metaOf(c), func(now time.Time, ref ledger.BatchRef) (*mutation, error) {
		if err := r.breaker.WhenNotPaused(); err != nil {
			return nil, err
		}
		t, err := r.trade(c.TradeID)
		if err != nil {
			return nil, err
		}
		side := t.CreatorSide.Other()
		if t.Funded[side] {
			side = t.CreatorSide
		}
		return r.fund(ctx, ref, now, t, side, c.Caller())
	})
}

func (r *Registry) fund(ctx context.Context, ref ledger.BatchRef, now time.Time, t *Trade, side event.Side, funder common.Address) (*mutation, error) {
	if now.Unix() >= t.DepositEnd {
		return nil, errs.Validation(errs.ReasonDepositClosed, "trade %d closed at %d", t.ID, t.DepositEnd)
	}
	if t.Funded[side] {
		return nil, errs.Conflict(errs.ReasonSideTaken, "trade %d side %s", t.ID, side)
	}
	if t.State != StateOpen {
		return nil, errs.Conflict(errs.ReasonNotOpen, "trade %d is %s", t.ID, t.State)
	}
	col, err := r.collateral(t.Collateral)
	if err != nil {
		return nil, err
	}

	amount := t.RequiredAmount(side)
	batch, err := r.custody.Deposit(ctx, ref, col, t.ID, side, funder, amount)
	if err != nil {
		return nil, err
	}

	t.setParticipant(side, funder)
	t.Funded[side] = true
	matched := t.FundedSides() == 2
	if matched {
		t.State = StateMatched
	}

	m := &mutation{trade: t}
	m.add(batch)
	m.events = append(m.events, &event.TradeFunded{
		TradeID: t.ID,
		Side:    side,
		Funder:  funder,
		Amount:  amount,
		Matched: matched,
	})
	return m, nil
}

// CancelTrade refunds the sole funded side and closes the trade. Only the
// creator or the funded participant may cancel.
func (r *Registry) CancelTrade(ctx context.Context, c *command.CancelTrade) (*Output, error) {
	return r.run(ctx, metaOf(c), func(now time.Time, ref ledger.BatchRef) (*mutation, error) {
		if err := r.breaker.WhenNotPaused(); err != nil {
			return nil, err
		}
		t, err := r.trade(c.TradeID)
		if err != nil {
			return nil, err
		}
		if t.State != StateOpen {
			return nil, errs.Conflict(errs.ReasonNotCancellable, "trade %d is %s", t.ID, t.State)
		}
		if !t.IsParticipant(c.Caller()) {
			return nil, errs.Unauthorized(errs.ReasonNotParticipant, "%s on trade %d", c.Caller().Hex(), t.ID)
		}

		m := &mutation{trade: t}
		cancelled := &event.TradeCancelled{TradeID: t.ID}
		for _, side := range event.Sides {
			if !t.Funded[side] {
				continue
			}
			col, err := r.collateral(t.Collateral)
			if err != nil {
				return nil, err
			}
			to := t.Participant(side)
			batch, amount, err := r.custody.Refund(ctx, ref, col, t.ID, side, to)
			if err != nil {
				return nil, err
			}
			m.add(batch)
			cancelled.Refunded = to
			cancelled.Amount = amount
			t.Funded[side] = false
		}

		t.State = StateCancelled
		m.events = append(m.events, cancelled)
		return m, nil
	})
}

// Settle reads the oracle, splits the escrow and records the snapshot.
func (r *Registry) Settle(ctx context.Context, c *command.Settle) (*Output, error) {
	return r.run(ctx, metaOf(c), func(now time.Time, ref ledger.BatchRef) (*mutation, error) {
		if err := r.breaker.WhenNotPaused(); err != nil {
			return nil, err
		}
		t, err := r.trade(c.TradeID)
		if err != nil {
			return nil, err
		}
		switch t.State {
		case StateSettled:
			return nil, errs.Conflict(errs.ReasonAlreadySettled, "trade %d", t.ID)
		case StateCancelled:
			return nil, errs.Conflict(errs.ReasonCancelled, "trade %d", t.ID)
		case StateOpen:
			return nil, errs.NotReady(errs.ReasonNotBothSides, "trade %d", t.ID)
		}
		if now.Unix() < t.SettleStart {
			return nil, errs.NotReady(errs.ReasonTooEarly, "trade %d settles from %d", t.ID, t.SettleStart)
		}

		adapter, err := r.oracle(t.Payoff.OracleRef)
		if err != nil {
			return nil, err
		}
		readCtx := ctx
		if r.cfg.OracleTimeout > 0 {
			var cancel context.CancelFunc
			readCtx, cancel = context.WithTimeout(ctx, r.cfg.OracleTimeout)
			defer cancel()
		}
		price, err := adapter.GetLatestPrice(readCtx, t.Payoff.OracleIndex)
		if err != nil {
			return nil, fmt.Errorf("read oracle %s/%d: %w", t.Payoff.OracleRef, t.Payoff.OracleIndex, err)
		}
		if !price.IsSet() {
			return nil, errs.NotReady(errs.ReasonBadPrice, "oracle %s/%d has no price", t.Payoff.OracleRef, t.Payoff.OracleIndex)
		}

		alloc, split, err := r.allocation(t, price.Value)
		if err != nil {
			return nil, err
		}
		batch, err := r.custody.Allocate(ref, t.Collateral, t.ID, alloc)
		if err != nil {
			return nil, err
		}

		t.LongClaimableAmount = alloc.LongClaimable()
		t.ShortClaimableAmount = alloc.ShortClaimable()
		t.CollectableFees = alloc.Fees()
		t.Settlement = OracleSnapshot{Price: price.Value, Timestamp: price.Timestamp}
		t.SettledAt = now.Unix()
		t.State = StateSettled

		m := &mutation{trade: t}
		m.add(batch)
		m.events = append(m.events, &event.TradeSettled{
			TradeID:         t.ID,
			Price:           price.Value,
			PriceTimestamp:  price.Timestamp,
			InTheMoney:      split.BuyerShare > 0,
			LongClaimable:   t.LongClaimableAmount,
			ShortClaimable:  t.ShortClaimableAmount,
			CollectableFees: t.CollectableFees,
		})
		return m, nil
	})
}

// Claim pays a side's claimable amount to its stored participant. Anyone may
// trigger it; each side can be claimed once.
func (r *Registry) Claim(ctx context.Context, c *command.Claim) (*Output, error) {
	return r.run(ctx, metaOf(c), func(now time.Time, ref ledger.BatchRef) (*mutation, error) {
		if err := r.breaker.WhenNotPaused(); err != nil {
			return nil, err
		}
		if !c.Side.Valid() {
			return nil, errs.Validation(errs.ReasonBadSide, "side %d", c.Side)
		}
		t, err := r.trade(c.TradeID)
		if err != nil {
			return nil, err
		}
		if t.State != StateSettled {
			return nil, errs.NotReady(errs.ReasonNotSettled, "trade %d is %s", t.ID, t.State)
		}
		if t.Claimed[c.Side] {
			return nil, errs.Conflict(errs.ReasonAlreadyClaimed, "trade %d side %s", t.ID, c.Side)
		}
		col, err := r.collateral(t.Collateral)
		if err != nil {
			return nil, err
		}

		// record is final before the transfer; restored if it fails
		recipient := t.Participant(c.Side)
		before := *t
		t.Claimed[c.Side] = true
		t.zeroClaimable(c.Side)

		batch, amount, err := r.custody.Claim(ctx, ref, col, t.ID, c.Side, recipient)
		if err != nil {
			*t = before
			return nil, err
		}

		m := &mutation{trade: t}
		m.add(batch)
		m.events = append(m.events, &event.TradeClaimed{
			TradeID:   t.ID,
			Side:      c.Side,
			Recipient: recipient,
			Amount:    amount,
		})
		return m, nil
	})
}

// --- Fees ---

// CollectFees drains a collateral's fee pool to the fee receiver.
func (r *Registry) CollectFees(ctx context.Context, c *command.CollectFees) (*Output, error) {
	return r.run(ctx, metaOf(c), func(now time.Time, ref ledger.BatchRef) (*mutation, error) {
		if err := r.breaker.WhenNotPaused(); err != nil {
			return nil, err
		}
		if err := r.roles.Require(access.RoleFeeCollector, c.Caller()); err != nil {
			return nil, err
		}
		if r.fees.Receiver == (common.Address{}) {
			return nil, errs.Validation(errs.ReasonNoFeeReceiver, "")
		}
		col, err := r.collateral(c.Collateral)
		if err != nil {
			return nil, err
		}
		batch, amount, err := r.custody.CollectFees(ctx, ref, col, r.fees.Receiver)
		if err != nil {
			return nil, err
		}
		if r.metrics != nil {
			r.metrics.FeesCollected.WithLabelValues(col.Symbol).Add(float64(amount))
		}

		m := &mutation{}
		m.add(batch)
		m.events = append(m.events, &event.FeesCollected{
			Collateral: col.Symbol,
			Amount:     amount,
			Receiver:   r.fees.Receiver,
		})
		return m, nil
	})
}

func (r *Registry) SetFeePercentage(ctx context.Context, c *command.SetFeePercentage) (*Output, error) {
	return r.run(ctx, metaOf(c), func(time.Time, ledger.BatchRef) (*mutation, error) {
		if err := r.roles.Require(access.RoleFeeCollector, c.Caller()); err != nil {
			return nil, err
		}
		if err := checkFeeBps(c.FeeBps, r.fees.FeeDecimals); err != nil {
			return nil, err
		}
		r.fees.FeeBps = c.FeeBps
		return r.feeUpdated(), nil
	})
}

func (r *Registry) SetFeeReceiver(ctx context.Context, c *command.SetFeeReceiver) (*Output, error) {
	return r.run(ctx, metaOf(c), func(time.Time, ledger.BatchRef) (*mutation, error) {
		if err := r.roles.Require(access.RoleFeeCollector, c.Caller()); err != nil {
			return nil, err
		}
		if c.Receiver == (common.Address{}) {
			return nil, errs.Validation(errs.ReasonBadAddress, "zero fee receiver")
		}
		r.fees.Receiver = c.Receiver
		return r.feeUpdated(), nil
	})
}

func (r *Registry) feeUpdated() *mutation {
	return &mutation{events: []event.Event{&event.FeeConfigUpdated{
		FeeBps:      r.fees.FeeBps,
		FeeDecimals: r.fees.FeeDecimals,
		Receiver:    r.fees.Receiver,
	}}}
}

// --- Circuit breaker ---

func (r *Registry) Pause(ctx context.Context, c *command.Pause) (*Output, error) {
	return r.run(ctx, metaOf(c), func(time.Time, ledger.BatchRef) (*mutation, error) {
		if err := r.roles.Require(access.RoleSecurityStaff, c.Caller()); err != nil {
			return nil, err
		}
		if err := r.breaker.Pause(); err != nil {
			return nil, err
		}
		return &mutation{events: []event.Event{&event.Paused{By: c.Caller()}}}, nil
	})
}

func (r *Registry) Unpause(ctx context.Context, c *command.Unpause) (*Output, error) {
	return r.run(ctx, metaOf(c), func(time.Time, ledger.BatchRef) (*mutation, error) {
		if err := r.roles.Require(access.RoleSecurityStaff, c.Caller()); err != nil {
			return nil, err
		}
		if err := r.breaker.Unpause(); err != nil {
			return nil, err
		}
		return &mutation{events: []event.Event{&event.Unpaused{By: c.Caller()}}}, nil
	})
}

// --- Roles ---

func (r *Registry) GrantRole(ctx context.Context, c *command.GrantRole) (*Output, error) {
	return r.run(ctx, metaOf(c), func(time.Time, ledger.BatchRef) (*mutation, error) {
		if err := r.roles.Require(access.RoleAdmin, c.Caller()); err != nil {
			return nil, err
		}
		if _, err := access.ParseRole(string(c.Role)); err != nil {
			return nil, errs.Validation(errs.ReasonMissingRole, "%v", err)
		}
		if c.Account == (common.Address{}) {
			return nil, errs.Validation(errs.ReasonBadAddress, "zero account")
		}
		if !r.roles.Grant(c.Role, c.Account) {
			return nil, errs.Conflict(errs.ReasonDuplicate, "%s already holds %s", c.Account.Hex(), c.Role)
		}
		return &mutation{events: []event.Event{&event.RoleGranted{Role: string(c.Role), Account: c.Account, By: c.Caller()}}}, nil
	})
}

func (r *Registry) RevokeRole(ctx context.Context, c *command.RevokeRole) (*Output, error) {
	return r.run(ctx, metaOf(c), func(time.Time, ledger.BatchRef) (*mutation, error) {
		if err := r.roles.Require(access.RoleAdmin, c.Caller()); err != nil {
			return nil, err
		}
		if !r.roles.Revoke(c.Role, c.Account) {
			return nil, errs.NotFound(errs.ReasonMissingRole, "%s does not hold %s", c.Account.Hex(), c.Role)
		}
		return &mutation{events: []event.Event{&event.RoleRevoked{Role: string(c.Role), Account: c.Account, By: c.Caller()}}}, nil
	})
}

// --- Oracles ---

// InsertOracleSource creates a new index on the named adapter. The adapter
// decides who may do so.
func (r *Registry) InsertOracleSource(ctx context.Context, c *command.InsertOracleSource) (*Output, error) {
	return r.run(ctx, metaOf(c), func(time.Time, ledger.BatchRef) (*mutation, error) {
		adapter, err := r.oracle(c.OracleRef)
		if err != nil {
			return nil, err
		}
		idx, err := adapter.InsertSource(ctx, c.Caller(), c.Source)
		if err != nil {
			return nil, err
		}
		return &mutation{events: []event.Event{&event.OracleCreated{
			OracleRef: c.OracleRef,
			Index:     idx,
			Source:    c.Source,
			Writer:    c.Caller(),
		}}}, nil
	})
}

// SetOraclePrice writes through a writable adapter.
func (r *Registry) SetOraclePrice(ctx context.Context, c *command.SetOraclePrice) (*Output, error) {
	return r.run(ctx, metaOf(c), func(time.Time, ledger.BatchRef) (*mutation, error) {
		adapter, err := r.oracle(c.OracleRef)
		if err != nil {
			return nil, err
		}
		w, ok := adapter.(oracle.Writer)
		if !ok {
			return nil, errs.Unauthorized(errs.ReasonReadOnlyOracle, "oracle %s", c.OracleRef)
		}
		if err := w.SetPrice(ctx, c.Caller(), c.Index, c.Price); err != nil {
			return nil, err
		}
		p, err := adapter.GetLatestPrice(ctx, c.Index)
		if err != nil {
			return nil, err
		}
		return &mutation{events: []event.Event{&event.OracleUpdated{
			OracleRef: c.OracleRef,
			Index:     c.Index,
			Price:     p.Value,
			Timestamp: p.Timestamp,
		}}}, nil
	})
}

// SetOracleWriter hands an adapter index to a new writer. Admin only.
func (r *Registry) SetOracleWriter(ctx context.Context, c *command.SetOracleWriter) (*Output, error) {
	return r.run(ctx, metaOf(c), func(time.Time, ledger.BatchRef) (*mutation, error) {
		if err := r.roles.Require(access.RoleAdmin, c.Caller()); err != nil {
			return nil, err
		}
		adapter, err := r.oracle(c.OracleRef)
		if err != nil {
			return nil, err
		}
		assigner, ok := adapter.(oracle.WriterAssigner)
		if !ok {
			return nil, errs.Unauthorized(errs.ReasonReadOnlyOracle, "oracle %s", c.OracleRef)
		}
		if err := assigner.SetWriter(c.Index, c.Writer); err != nil {
			return nil, err
		}
		return &mutation{events: []event.Event{&event.OracleWriterSet{
			OracleRef: c.OracleRef,
			Index:     c.Index,
			Writer:    c.Writer,
			By:        c.Caller(),
		}}}, nil
	})
}
