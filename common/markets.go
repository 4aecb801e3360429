package common

import "github.com/juju/errors"

// MarketID is the identifier of a trading venue market; e.g. "ROFX".
type MarketID string

// MarketROFX is the ROFEX exchange. It is currently the only market served
// by the Primary API.
const MarketROFX MarketID = "ROFX"

// MarketDataEntry is a category of market-data field that can be requested in
// a market-data subscription; e.g. bids or offers. The value of each constant
// is the two-letter code used on the wire.
type MarketDataEntry string

// The following constants define every possible market-data entry.
const (
	Bids                 MarketDataEntry = "BI"
	Offers               MarketDataEntry = "OF"
	Last                 MarketDataEntry = "LA"
	OpeningPrice         MarketDataEntry = "OP"
	ClosingPrice         MarketDataEntry = "CL"
	SettlementPrice      MarketDataEntry = "SE"
	HighPrice            MarketDataEntry = "HI"
	LowPrice             MarketDataEntry = "LO"
	TradeVolume          MarketDataEntry = "TV"
	OpenInterest         MarketDataEntry = "OI"
	IndexValue           MarketDataEntry = "IV"
	TradeEffectiveVolume MarketDataEntry = "EV"
	NominalVolume        MarketDataEntry = "NV"
	TradeCount           MarketDataEntry = "TC"
)

// Instrument identifies a tradeable instrument: a ticker symbol together with
// the market it trades on.
type Instrument struct {
	Symbol   string   `json:"symbol"`
	MarketID MarketID `json:"marketId"`
}

// Environment represents a Primary API environment.
type Environment int32

const (
	// Remarket is the test environment (reMarkets).
	Remarket Environment = iota

	// Live is the production environment.
	Live
)

// EnvironmentNames contains human-readable names for Environment.
var EnvironmentNames = map[Environment]string{
	Remarket: "remarket",
	Live:     "live",
}

func (e Environment) String() string {
	return EnvironmentNames[e]
}

// ErrUnknownEnvironment is returned by EnvironmentFromName when the given
// name doesn't match any environment.
var ErrUnknownEnvironment = errors.New("unknown environment")

// EnvironmentFromName returns the Environment with the given name, as found
// in EnvironmentNames.
func EnvironmentFromName(name string) (Environment, error) {
	for env, n := range EnvironmentNames {
		if n == name {
			return env, nil
		}
	}

	return 0, errors.Annotatef(ErrUnknownEnvironment, "%q", name)
}
