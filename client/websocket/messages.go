package websocket

import (
	"encoding/json"

	"github.com/juju/errors"
	"github.com/primaryapi/rofex-sdk-go/common"
)

// Outbound message type discriminants.
const (
	msgTypeMarketDataSubscribe  = "smd"
	msgTypeOrderReportSubscribe = "os"
	msgTypeNewOrder             = "no"
	msgTypeCancelOrder          = "co"
)

// marketDataLevel is the only subscription level the API supports.
const marketDataLevel = 1

type marketDataSubscribeMessage struct {
	Type     string                   `json:"type"`
	Level    int                      `json:"level"`
	Entries  []common.MarketDataEntry `json:"entries"`
	Products []common.Instrument      `json:"products"`
	Depth    int                      `json:"depth"`
}

type orderReportSubscribeMessage struct {
	Type               string       `json:"type"`
	Account            wireAccount  `json:"account"`
	SnapshotOnlyActive bool         `json:"snapshotOnlyActive"`
}

type wireAccount struct {
	ID string `json:"id"`
}

type cancelOrderMessage struct {
	Type        string `json:"type"`
	ClientID    string `json:"clientId"`
	Proprietary string `json:"proprietary"`
}

// newOrderMessage encodes a new-order request. Field order matters: the
// optional trailing fields must follow the fixed ones in exactly this
// sequence, so they are declared in wire order and populated conditionally
// by encodeNewOrder.
type newOrderMessage struct {
	Type           string            `json:"type"`
	Product        common.Instrument `json:"product"`
	Quantity       int               `json:"quantity"`
	Side           string            `json:"side"`
	Account        string            `json:"account"`
	CancelPrevious bool              `json:"cancelPrevious"`
	AllOrNone      bool              `json:"allOrNone"`
	OrdType        string            `json:"ordType"`
	TimeInForce    string            `json:"timeInForce"`

	// Optional parameters, in fixed wire order.
	ExpireDate      string   `json:"expireDate,omitempty"`
	Iceberg         *bool    `json:"iceberg,omitempty"`
	DisplayQuantity *int     `json:"displayQuantity,omitempty"`
	WSClientOrderID string   `json:"wsClOrdId,omitempty"`
	Price           *float64 `json:"price,omitempty"`
}

func encodeMarketDataSubscribe(sub MarketDataSubscription) ([]byte, error) {
	products := make([]common.Instrument, 0, len(sub.Symbols))
	for _, symbol := range sub.Symbols {
		products = append(products, common.Instrument{Symbol: symbol, MarketID: sub.Market})
	}

	data, err := json.Marshal(marketDataSubscribeMessage{
		Type:     msgTypeMarketDataSubscribe,
		Level:    marketDataLevel,
		Entries:  sub.Entries,
		Products: products,
		Depth:    sub.Depth,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "encoding market data subscription")
	}

	return data, nil
}

func encodeOrderReportSubscribe(sub OrderReportSubscription) ([]byte, error) {
	data, err := json.Marshal(orderReportSubscribeMessage{
		Type:               msgTypeOrderReportSubscribe,
		Account:            wireAccount{ID: sub.Account},
		SnapshotOnlyActive: sub.Snapshot,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "encoding order report subscription")
	}

	return data, nil
}

func encodeCancelOrder(clientOrderID, proprietary string) ([]byte, error) {
	data, err := json.Marshal(cancelOrderMessage{
		Type:        msgTypeCancelOrder,
		ClientID:    clientOrderID,
		Proprietary: proprietary,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "encoding cancel order")
	}

	return data, nil
}

// OrderParams contains the parameters for SendOrder.
type OrderParams struct {
	// Ticker is the instrument symbol, e.g. "DLR/MAR23".
	Ticker string

	// Size is the order size.
	Size int

	Side      common.OrderSide
	OrderType common.OrderType

	// Account is the trading account the order is placed for.
	Account string

	// Price is the limit price; it is only included on the wire for limit
	// orders, and may be nil otherwise.
	Price *float64

	TimeInForce common.TimeInForce
	Market      common.MarketID

	// CancelPrevious makes the venue cancel active orders matching the same
	// account, side and ticker before placing this one.
	CancelPrevious bool

	// Iceberg marks the order as an iceberg order; DisplayQuantity is the
	// amount disclosed on the book.
	Iceberg         bool
	DisplayQuantity int

	// ExpireDate is the expiration date for GoodTillDate orders, formatted
	// as yyyyMMdd, e.g. "20230720".
	ExpireDate string

	// AllOrNone requires the order to fill completely or not at all.
	AllOrNone bool

	// ClientOrderID is an optional caller-assigned order identifier.
	ClientOrderID string
}

func encodeNewOrder(o *OrderParams) ([]byte, error) {
	msg := newOrderMessage{
		Type:           msgTypeNewOrder,
		Product:        common.Instrument{Symbol: o.Ticker, MarketID: o.Market},
		Quantity:       o.Size,
		Side:           o.Side.APIValue(),
		Account:        o.Account,
		CancelPrevious: o.CancelPrevious,
		AllOrNone:      o.AllOrNone,
		OrdType:        o.OrderType.APIValue(),
		TimeInForce:    o.TimeInForce.APIValue(),
	}

	if o.TimeInForce == common.GoodTillDate {
		msg.ExpireDate = o.ExpireDate
	}

	if o.Iceberg {
		iceberg := true
		displayQuantity := o.DisplayQuantity
		msg.Iceberg = &iceberg
		msg.DisplayQuantity = &displayQuantity
	}

	if o.ClientOrderID != "" {
		msg.WSClientOrderID = o.ClientOrderID
	}

	if o.Price != nil && o.OrderType == common.LimitOrder {
		price := *o.Price
		msg.Price = &price
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Annotatef(err, "encoding new order")
	}

	return data, nil
}
