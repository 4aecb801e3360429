package common

import "strings"

// OrderSide represents the order side; e.g. "buy" or "sell".
type OrderSide int32

const (
	BuyOrder OrderSide = iota
	SellOrder
)

// OrderSideNames contains human-readable names for OrderSide.
var OrderSideNames = map[OrderSide]string{
	BuyOrder:  "buy",
	SellOrder: "sell",
}

var orderSideWireValues = map[OrderSide]string{
	BuyOrder:  "Buy",
	SellOrder: "Sell",
}

// APIValue returns the value sent on the wire in order messages. The
// websocket API expects order sides in uppercase.
func (s OrderSide) APIValue() string {
	return strings.ToUpper(orderSideWireValues[s])
}

func (s OrderSide) String() string {
	return OrderSideNames[s]
}

// OrderType represents the type of order; e.g. "limit" or "market". The types
// available depend on the market segment; refer to the Primary API
// documentation for details.
type OrderType int32

// The following constants define every possible order type.
const (
	LimitOrder OrderType = iota
	MarketOrder
	MarketToLimitOrder
)

// OrderTypeNames contains human-readable names for OrderType.
var OrderTypeNames = map[OrderType]string{
	LimitOrder:         "limit",
	MarketOrder:        "market",
	MarketToLimitOrder: "market-to-limit",
}

var orderTypeWireValues = map[OrderType]string{
	LimitOrder:         "Limit",
	MarketOrder:        "Market",
	MarketToLimitOrder: "Market to Limit",
}

// APIValue returns the value sent on the wire in order messages.
func (t OrderType) APIValue() string {
	return orderTypeWireValues[t]
}

func (t OrderType) String() string {
	return OrderTypeNames[t]
}

// TimeInForce is an order modifier that defines how long the order stays
// active on the order book.
type TimeInForce int32

// The following constants define every possible time-in-force modifier.
const (
	Day TimeInForce = iota
	ImmediateOrCancel
	FillOrKill
	GoodTillDate
)

// TimeInForceNames contains human-readable names for TimeInForce.
var TimeInForceNames = map[TimeInForce]string{
	Day:               "day",
	ImmediateOrCancel: "immediate-or-cancel",
	FillOrKill:        "fill-or-kill",
	GoodTillDate:      "good-till-date",
}

var timeInForceWireValues = map[TimeInForce]string{
	Day:               "Day",
	ImmediateOrCancel: "ImmediateOrCancel",
	FillOrKill:        "FillOrKill",
	GoodTillDate:      "GoodTillDate",
}

// APIValue returns the value sent on the wire in order messages. The
// websocket API expects time-in-force modifiers in uppercase.
func (t TimeInForce) APIValue() string {
	return strings.ToUpper(timeInForceWireValues[t])
}

func (t TimeInForce) String() string {
	return TimeInForceNames[t]
}
