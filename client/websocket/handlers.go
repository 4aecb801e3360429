package websocket

import (
	"reflect"
	"sync"
)

// MarketDataCB defines a callback function for AddMarketDataHandler.
type MarketDataCB func(update MarketDataUpdate)

// OrderReportCB defines a callback function for AddOrderReportHandler.
type OrderReportCB func(report OrderReport)

// ErrorCB defines a callback function for AddErrorHandler. It receives venue
// error frames as well as frames the client could not classify.
type ErrorCB func(venueErr VenueError)

// ExceptionCB defines a callback function for SetExceptionHandler. It
// receives client-side faults: connection failures, transport errors, decode
// errors, handler panics and reconnection exhaustion.
type ExceptionCB func(err error)

// callbackList is an ordered set of callbacks keyed by function identity:
// adding a callback that is already present is a no-op, and so is removing
// one that was never added. Dispatch order is registration order.
type callbackList[CB any] struct {
	keys []uintptr
	cbs  []CB
}

func callbackKey(cb any) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

func (l *callbackList[CB]) add(cb CB) {
	key := callbackKey(cb)
	for _, k := range l.keys {
		if k == key {
			return
		}
	}

	l.keys = append(l.keys, key)
	l.cbs = append(l.cbs, cb)
}

func (l *callbackList[CB]) remove(cb CB) {
	key := callbackKey(cb)
	for i, k := range l.keys {
		if k == key {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			l.cbs = append(l.cbs[:i], l.cbs[i+1:]...)
			return
		}
	}
}

func (l *callbackList[CB]) snapshot() []CB {
	cbs := make([]CB, len(l.cbs))
	copy(cbs, l.cbs)
	return cbs
}

// handlerRegistry holds the registered callbacks for each inbound event
// category, plus the single exception sink. A handler is never invoked for
// an event category other than the one it was registered for.
type handlerRegistry struct {
	mtx sync.Mutex

	marketData  callbackList[MarketDataCB]
	orderReport callbackList[OrderReportCB]
	errors      callbackList[ErrorCB]

	// exception is last-writer-wins, not a set.
	exception ExceptionCB
}

func (r *handlerRegistry) addMarketData(cb MarketDataCB) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.marketData.add(cb)
}

func (r *handlerRegistry) removeMarketData(cb MarketDataCB) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.marketData.remove(cb)
}

func (r *handlerRegistry) addOrderReport(cb OrderReportCB) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.orderReport.add(cb)
}

func (r *handlerRegistry) removeOrderReport(cb OrderReportCB) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.orderReport.remove(cb)
}

func (r *handlerRegistry) addError(cb ErrorCB) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.errors.add(cb)
}

func (r *handlerRegistry) removeError(cb ErrorCB) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.errors.remove(cb)
}

func (r *handlerRegistry) setException(cb ExceptionCB) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.exception = cb
}

func (r *handlerRegistry) marketDataSnapshot() []MarketDataCB {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.marketData.snapshot()
}

func (r *handlerRegistry) orderReportSnapshot() []OrderReportCB {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.orderReport.snapshot()
}

func (r *handlerRegistry) errorsSnapshot() []ErrorCB {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.errors.snapshot()
}

func (r *handlerRegistry) exceptionHandler() ExceptionCB {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.exception
}
