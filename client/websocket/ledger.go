package websocket

import (
	"slices"
	"sync"

	"github.com/primaryapi/rofex-sdk-go/common"
)

// MarketDataSubscription is the record of a standing market-data
// subscription. Two records are considered equal when symbols (in order),
// entries (as a set), market and depth all match.
type MarketDataSubscription struct {
	Symbols []string
	Entries []common.MarketDataEntry
	Market  common.MarketID
	Depth   int
}

func (s MarketDataSubscription) equal(o MarketDataSubscription) bool {
	if s.Market != o.Market || s.Depth != o.Depth {
		return false
	}

	if !slices.Equal(s.Symbols, o.Symbols) {
		return false
	}

	if len(s.Entries) != len(o.Entries) {
		return false
	}
	for _, e := range s.Entries {
		if !slices.Contains(o.Entries, e) {
			return false
		}
	}

	return true
}

// OrderReportSubscription is the record of a standing order-report
// subscription.
type OrderReportSubscription struct {
	Account  string
	Snapshot bool
}

// subscriptionLedger records every standing subscription so that it can be
// replayed after a reconnection. Records are kept in insertion order, one per
// distinct parameter set: re-inserting an equal record is a no-op. The wire
// layer is not the ledger's business; duplicate subscribe requests still hit
// the wire, they just don't grow the ledger.
type subscriptionLedger struct {
	mtx sync.Mutex

	marketData  []MarketDataSubscription
	orderReport []OrderReportSubscription
}

// addMarketData inserts the record unless a structurally-equal one exists.
// It reports whether the record was inserted. Linear scan: the expected
// cardinality is a few dozen records at most.
func (l *subscriptionLedger) addMarketData(sub MarketDataSubscription) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	for _, existing := range l.marketData {
		if existing.equal(sub) {
			return false
		}
	}

	l.marketData = append(l.marketData, sub)
	return true
}

// addOrderReport inserts the record unless an equal one exists. It reports
// whether the record was inserted.
func (l *subscriptionLedger) addOrderReport(sub OrderReportSubscription) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	for _, existing := range l.orderReport {
		if existing == sub {
			return false
		}
	}

	l.orderReport = append(l.orderReport, sub)
	return true
}

// snapshot returns copies of both collections, in insertion order.
func (l *subscriptionLedger) snapshot() ([]MarketDataSubscription, []OrderReportSubscription) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	md := make([]MarketDataSubscription, len(l.marketData))
	for i, sub := range l.marketData {
		sub.Symbols = slices.Clone(sub.Symbols)
		sub.Entries = slices.Clone(sub.Entries)
		md[i] = sub
	}

	or := make([]OrderReportSubscription, len(l.orderReport))
	copy(or, l.orderReport)

	return md, or
}

// clear empties both collections.
func (l *subscriptionLedger) clear() {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	l.marketData = nil
	l.orderReport = nil
}
