/*
Package rest provides a client for the Primary REST API: authentication and
reference data. Its UpdateToken method satisfies the token refresher needed
by the websocket client, so a single rest.Client can both bootstrap and keep
refreshing the credentials of a websocket session.
*/
package rest

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/juju/errors"

	"github.com/primaryapi/rofex-sdk-go/common"
)

const statusOK = "OK"

var (
	// ErrAuthenticationFailed means the server rejected the configured
	// credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotAuthenticated means a call that needs a token was made before a
	// successful UpdateToken.
	ErrNotAuthenticated = errors.New("not authenticated, call UpdateToken first")
)

type Client struct {
	params ClientParams

	httpClient *http.Client

	mtx   sync.Mutex
	token string
}

type ClientParams struct {
	// APIURL is the base URL of the REST API, e.g.
	// "https://api.remarkets.primary.com.ar/". Required.
	APIURL string

	User     string
	Password string

	TLSConfig *tls.Config
}

// InstrumentDescr describes a tradeable instrument as reported by the
// reference-data endpoints.
type InstrumentDescr struct {
	InstrumentID common.Instrument `json:"instrumentId"`
	CFICode      string            `json:"cficode"`

	// The fields below are only populated by InstrumentDetails.
	SegmentID         string  `json:"segmentId,omitempty"`
	LowLimitPrice     float64 `json:"lowLimitPrice,omitempty"`
	HighLimitPrice    float64 `json:"highLimitPrice,omitempty"`
	MinPriceIncrement float64 `json:"minPriceIncrement,omitempty"`
	MinTradeVol       float64 `json:"minTradeVol,omitempty"`
	MaxTradeVol       float64 `json:"maxTradeVol,omitempty"`
	Currency          string  `json:"currency,omitempty"`
	MaturityDate      string  `json:"maturityDate,omitempty"`
}

// SegmentDescr describes a market segment.
type SegmentDescr struct {
	MarketSegmentID string          `json:"marketSegmentId"`
	MarketID        common.MarketID `json:"marketId"`
}

// AccountDescr describes a trading account associated with the
// authenticated user.
type AccountDescr struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	BrokerID int64  `json:"brokerId"`
	Status   bool   `json:"status"`
}

type instrumentsServer struct {
	Status      string            `json:"status"`
	Description string            `json:"description"`
	Instruments []InstrumentDescr `json:"instruments"`
}

type segmentsServer struct {
	Status      string         `json:"status"`
	Description string         `json:"description"`
	Segments    []SegmentDescr `json:"segments"`
}

type accountsServer struct {
	Status      string         `json:"status"`
	Description string         `json:"description"`
	Accounts    []AccountDescr `json:"accounts"`
}

func NewClient(params *ClientParams) (*Client, error) {
	if params.APIURL == "" {
		return nil, errors.New("APIURL is empty")
	}

	c := &Client{
		params:     *params,
		httpClient: &http.Client{},
	}

	if !strings.HasSuffix(c.params.APIURL, "/") {
		c.params.APIURL += "/"
	}

	if params.TLSConfig != nil {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: params.TLSConfig.Clone(),
		}
	}

	return c, nil
}

// UpdateToken authenticates with the configured user and password, stores
// the received token for subsequent calls, and returns it. The server hands
// the token back in the X-Auth-Token response header.
func (c *Client) UpdateToken() (string, error) {
	req, err := http.NewRequest("POST", c.params.APIURL+"auth/getToken", nil)
	if err != nil {
		return "", errors.Trace(err)
	}

	req.Header.Set("X-Username", c.params.User)
	req.Header.Set("X-Password", c.params.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Annotatef(ErrAuthenticationFailed, "status %d", resp.StatusCode)
	}

	token := resp.Header.Get("X-Auth-Token")
	if token == "" {
		return "", errors.Annotatef(ErrAuthenticationFailed, "no token in response")
	}

	c.mtx.Lock()
	c.token = token
	c.mtx.Unlock()

	return token, nil
}

// Token returns the token obtained by the last successful UpdateToken, or an
// empty string.
func (c *Client) Token() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.token
}

// Instruments returns every instrument tradeable through the API.
func (c *Client) Instruments() ([]InstrumentDescr, error) {
	res := instrumentsServer{}
	if err := c.get("rest/instruments/all", &res); err != nil {
		return nil, errors.Trace(err)
	}

	if res.Status != statusOK {
		return nil, errors.New(res.Description)
	}

	return res.Instruments, nil
}

// InstrumentDetails returns every instrument with its full reference data:
// price limits, tick size, currency and the like.
func (c *Client) InstrumentDetails() ([]InstrumentDescr, error) {
	res := instrumentsServer{}
	if err := c.get("rest/instruments/details", &res); err != nil {
		return nil, errors.Trace(err)
	}

	if res.Status != statusOK {
		return nil, errors.New(res.Description)
	}

	return res.Instruments, nil
}

// Segments returns every market segment.
func (c *Client) Segments() ([]SegmentDescr, error) {
	res := segmentsServer{}
	if err := c.get("rest/segment/all", &res); err != nil {
		return nil, errors.Trace(err)
	}

	if res.Status != statusOK {
		return nil, errors.New(res.Description)
	}

	return res.Segments, nil
}

// Accounts returns the trading accounts associated with the authenticated
// user.
func (c *Client) Accounts() ([]AccountDescr, error) {
	res := accountsServer{}
	if err := c.get("rest/accounts", &res); err != nil {
		return nil, errors.Trace(err)
	}

	if res.Status != statusOK {
		return nil, errors.New(res.Description)
	}

	return res.Accounts, nil
}

func (c *Client) get(path string, result interface{}) error {
	token := c.Token()
	if token == "" {
		return errors.Trace(ErrNotAuthenticated)
	}

	req, err := http.NewRequest("GET", c.params.APIURL+path, nil)
	if err != nil {
		return errors.Trace(err)
	}

	req.Header.Set("X-Auth-Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.Trace(ErrAuthenticationFailed)
	}

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d for %s", resp.StatusCode, path)
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(result); err != nil {
		return errors.Annotatef(err, "decoding %s response", path)
	}

	return nil
}
