package websocket

import (
	"encoding/json"

	"github.com/primaryapi/rofex-sdk-go/common"
)

// MarketDataUpdate is delivered to market-data handlers for every inbound
// market-data frame.
type MarketDataUpdate struct {
	// Timestamp is the venue timestamp, in milliseconds since the epoch.
	Timestamp int64

	// Instrument is the instrument the update refers to.
	Instrument common.Instrument

	// Entries maps each market-data entry code to its raw JSON value. The
	// shape of the value depends on the entry: book entries (BI, OF) are
	// arrays of price levels, most others are single objects or numbers.
	Entries map[common.MarketDataEntry]json.RawMessage

	// Raw is the complete frame as received.
	Raw []byte
}

// OrderReport is delivered to order-report handlers for every inbound
// execution-report frame.
type OrderReport struct {
	// Timestamp is the venue timestamp, in milliseconds since the epoch.
	Timestamp int64

	// Report is the raw JSON execution report.
	Report json.RawMessage

	// Raw is the complete frame as received.
	Raw []byte
}

// VenueError is delivered to error handlers. It is either an explicit error
// frame sent by the venue (Status is set and Description carries the venue's
// message), or a frame the client could not classify (Status is empty and
// Description explains why).
type VenueError struct {
	Status      string
	Description string

	// Raw is the complete frame as received.
	Raw []byte
}

// inboundFrame is the envelope every inbound frame is first decoded into, to
// classify it before a second, type-specific decode.
type inboundFrame struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type marketDataFrame struct {
	Timestamp    int64                                      `json:"timestamp"`
	InstrumentID common.Instrument                          `json:"instrumentId"`
	MarketData   map[common.MarketDataEntry]json.RawMessage `json:"marketData"`
}

type orderReportFrame struct {
	Timestamp   int64           `json:"timestamp"`
	OrderReport json.RawMessage `json:"orderReport"`
}
