package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"arbcore/internal/exchangerest"
	"arbcore/internal/notifier"
	"arbcore/internal/types"
)

// onOpportunity is the single entry point every strategy result flows
// through: it records the detection, rechecks the book for slippage since
// detection, runs the risk gate, and on approval dispatches execution onto
// the bounded goroutine pool so a slow fill never stalls the next
// detection.
func (o *Orchestrator) onOpportunity(opp types.Opportunity) {
	n := o.detected.Add(1)
	if opp.ID == "" {
		opp.ID = types.OpportunityId(fmt.Sprintf("opp-%d-%d", opp.DetectedAt.UnixNano(), n))
	}

	if o.recorder != nil {
		if err := o.recorder.RecordDetection(opp); err != nil {
			o.logger.Error("record detection", "error", err)
		}
		if err := o.recorder.RecordDetectionCounters(opp.Strategy, opp.DetectedAt); err != nil {
			o.logger.Error("record detection counters", "error", err)
		}
	}

	o.notify.Publish(notifier.Event{
		Kind:    notifier.EventOpportunity,
		Message: fmt.Sprintf("%s edge=%s profit=%s", opp.Strategy, opp.Edge.String(), opp.ExpectedProfit.String()),
		Data:    opp,
	})

	if !o.passesSlippageCheck(opp) {
		o.reject(opp, "SlippageExceeded")
		return
	}

	notional := decimal.Zero
	for _, leg := range opp.Legs {
		notional = notional.Add(leg.Size.Mul(leg.Price))
	}
	notionalF, _ := notional.Float64()
	profitF, _ := opp.ExpectedProfit.Float64()

	var primaryMarket types.MarketId
	if len(opp.MarketIDs) > 0 {
		primaryMarket = opp.MarketIDs[0]
	}

	decision := o.riskMgr.Evaluate(primaryMarket, notionalF, profitF)
	if !decision.Approved {
		o.reject(opp, decision.Reason)
		return
	}

	// sourcegraph/conc's Pool.Go blocks the caller once MaxGoroutines is
	// saturated rather than dropping the work, which would stall this
	// single-threaded event-consumer loop behind in-flight executions. Gate
	// admission with a non-blocking semaphore first: an opportunity that
	// doesn't fit is dropped as Throttled and re-detected on the next book
	// update, exactly as it would have been had it been delayed, instead of
	// backing up every other event the orchestrator needs to process.
	select {
	case o.execSem <- struct{}{}:
	default:
		o.reject(opp, "Throttled")
		return
	}
	o.execPool.Go(func() {
		defer func() { <-o.execSem }()
		o.execute(opp, notional)
	})
}

// passesSlippageCheck re-reads the current best price for every leg and
// rejects the opportunity if the book has drifted past risk.max_slippage
// since detection.
func (o *Orchestrator) passesSlippageCheck(opp types.Opportunity) bool {
	maxSlippage := decimal.NewFromFloat(o.cfg.Risk.MaxSlippage)
	for _, leg := range opp.Legs {
		book, ok := o.cache.Get(leg.Token)
		if !ok {
			return false
		}

		var current decimal.Decimal
		switch leg.Side {
		case types.Buy:
			ask, ok := book.BestAsk()
			if !ok {
				return false
			}
			current = ask.Price
		case types.Sell:
			bid, ok := book.BestBid()
			if !ok {
				return false
			}
			current = bid.Price
		}

		if leg.Price.IsZero() {
			continue
		}
		drift := current.Sub(leg.Price).Abs().Div(leg.Price)
		if drift.GreaterThan(maxSlippage) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) reject(opp types.Opportunity, reason string) {
	o.rejected.Add(1)
	if o.recorder != nil {
		if err := o.recorder.RecordExecutionCounters(opp.Strategy, opp.DetectedAt, false, nil); err != nil {
			o.logger.Error("record rejection counters", "error", err)
		}
	}
	o.notify.Publish(notifier.Event{
		Kind:    notifier.EventRisk,
		Message: fmt.Sprintf("opportunity %s rejected: %s", opp.ID, reason),
		Data:    opp,
	})
}

// execute submits every leg of an approved opportunity, opens the resulting
// position, and feeds the outcome back to the risk manager, position store,
// stats recorder and notifier. It runs on the bounded execution pool, never
// on the event-consumer goroutine.
func (o *Orchestrator) execute(opp types.Opportunity, notional decimal.Decimal) {
	timeout := time.Duration(o.cfg.Risk.ExecutionTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(o.ctx, timeout)
	defer cancel()

	orders := make([]exchangerest.OrderRequest, 0, len(opp.Legs))
	expiration := time.Now().Add(timeout)
	for _, leg := range opp.Legs {
		orders = append(orders, exchangerest.OrderRequest{
			TokenID:      leg.Token,
			Side:         leg.Side,
			Price:        leg.Price,
			Size:         leg.Size,
			TickDecimals: defaultTickDecimals,
			ExpirationAt: expiration,
			OrderType:    "FOK",
		})
	}

	results, err := o.exec.PostOrders(ctx, orders)
	if err != nil {
		o.execFailures.Add(1)
		o.riskMgr.RecordExecutionResult(false)
		o.recordExecutionOutcome(opp, types.ExecRejected, nil)
		o.notify.Publish(notifier.Event{
			Kind:    notifier.EventExecution,
			Message: fmt.Sprintf("opportunity %s execution failed: %s", opp.ID, err),
			Data:    opp,
		})
		return
	}

	status := aggregateStatus(results)
	success := status == types.ExecFilled
	o.riskMgr.RecordExecutionResult(success)

	realized := realizedProfit(opp, status)
	now := time.Now()
	positionID := types.PositionId(fmt.Sprintf("pos-%s", opp.ID))

	pos := types.Position{
		ID:             positionID,
		OpportunityID:  opp.ID,
		Strategy:       opp.Strategy,
		MarketIDs:      opp.MarketIDs,
		Legs:           opp.Legs,
		Size:           notional,
		ExpectedProfit: opp.ExpectedProfit,
		RealizedProfit: &realized,
		Status:         positionStatusFor(status),
		OpenedAt:       now,
	}
	if err := o.positions.OpenPosition(pos); err != nil {
		o.logger.Error("open position", "position", positionID, "error", err)
	}

	o.applyExposure(opp)

	if status == types.ExecRejected {
		o.execFailures.Add(1)
	} else {
		o.executed.Add(1)
	}

	o.recordExecutionOutcome(opp, status, &realized)
	if o.recorder != nil {
		if err := o.recorder.RecordTradeOpen(positionID, opp.ID, opp.Strategy, now); err != nil {
			o.logger.Error("record trade open", "position", positionID, "error", err)
		}
	}

	o.notify.Publish(notifier.Event{
		Kind:    notifier.EventExecution,
		Message: fmt.Sprintf("opportunity %s executed: %s", opp.ID, status),
		Data:    pos,
	})
}

func (o *Orchestrator) recordExecutionOutcome(opp types.Opportunity, status types.ExecutionStatus, realized *decimal.Decimal) {
	if o.recorder == nil {
		return
	}
	profit := decimal.Zero
	if realized != nil {
		profit = *realized
	}
	if err := o.recorder.RecordExecution(opp.ID, status, profit); err != nil {
		o.logger.Error("record execution", "opportunity", opp.ID, "error", err)
	}
	executed := status == types.ExecFilled || status == types.ExecPartial
	if err := o.recorder.RecordExecutionCounters(opp.Strategy, opp.DetectedAt, executed, realized); err != nil {
		o.logger.Error("record execution counters", "opportunity", opp.ID, "error", err)
	}
}

// applyExposure attributes every leg's notional to its market and feeds the
// running per-market total back to the risk manager, which tracks exposure
// as a live total rather than a delta.
func (o *Orchestrator) applyExposure(opp types.Opportunity) {
	perMarket := map[types.MarketId]decimal.Decimal{}
	for _, leg := range opp.Legs {
		market, ok := o.marketOf(leg.Token)
		if !ok {
			continue
		}
		perMarket[market.ID] = perMarket[market.ID].Add(leg.Size.Mul(leg.Price))
	}

	o.exposureMu.Lock()
	defer o.exposureMu.Unlock()
	for marketID, amount := range perMarket {
		cur := o.exposure[marketID].Add(amount)
		o.exposure[marketID] = cur
		f, _ := cur.Float64()
		o.riskMgr.SetExposure(marketID, f)
	}
}

// aggregateStatus reduces every leg's order response to a single execution
// status: all succeeded is a fill, none succeeded is a rejection, and a mix
// is a partial fill requiring risk to treat it conservatively.
func aggregateStatus(results []exchangerest.OrderResponse) types.ExecutionStatus {
	if len(results) == 0 {
		return types.ExecRejected
	}
	success, failure := 0, 0
	for _, r := range results {
		if r.Success {
			success++
		} else {
			failure++
		}
	}
	switch {
	case failure == 0:
		return types.ExecFilled
	case success == 0:
		return types.ExecRejected
	default:
		return types.ExecPartial
	}
}

// realizedProfit conservatively estimates realized profit from the
// opportunity's expected profit: a full fill realizes it, a partial fill
// realizes half pending the eventual settlement reconciliation, and a
// rejected execution realizes nothing.
func realizedProfit(opp types.Opportunity, status types.ExecutionStatus) decimal.Decimal {
	switch status {
	case types.ExecFilled:
		return opp.ExpectedProfit
	case types.ExecPartial:
		return opp.ExpectedProfit.Div(decimal.NewFromInt(2))
	default:
		return decimal.Zero
	}
}

func positionStatusFor(status types.ExecutionStatus) types.PositionStatus {
	switch status {
	case types.ExecFilled:
		return types.PositionOpen
	case types.ExecPartial:
		return types.PositionPartial
	default:
		return types.PositionFailed
	}
}
