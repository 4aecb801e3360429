package websocket

import (
	"time"

	"github.com/juju/errors"
)

const (
	// stabilizationDelay is the pause between a successful reconnection and
	// the start of subscription replay, so that the server-side session is
	// fully set up before requests arrive.
	stabilizationDelay = 1 * time.Second

	// replayDelay is the pause between consecutive replayed subscription
	// requests.
	replayDelay = 100 * time.Millisecond
)

// runRecovery is the recovery supervisor. Exactly one instance runs at a
// time, guarded by the recovering flag, which is released only when the run
// ends (in success or exhaustion) so that a mid-run abnormal closure cannot
// spawn a second supervisor.
func (c *Client) runRecovery(opts ReconnectOpts) {
	defer c.recovering.Store(false)

	delay := opts.BaseDelay

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		c.clk.Sleep(delay)
		delay *= 2

		// The first attempt assumes a transient drop and reuses the token;
		// if that didn't work, the token itself is suspect, so every later
		// attempt refreshes it first.
		if attempt > 1 {
			if err := c.refreshToken(); err != nil {
				c.log.Warn("token refresh failed", "attempt", attempt, "error", err)
				continue
			}
		}

		c.log.Info("reconnection attempt", "attempt", attempt, "max", opts.MaxAttempts)

		if err := c.connect(); err != nil {
			c.log.Warn("reconnection attempt failed", "attempt", attempt, "error", err)
			continue
		}

		if !c.IsConnected() {
			continue
		}

		c.log.Info("reconnected", "attempt", attempt)

		c.clk.Sleep(stabilizationDelay)
		c.replaySubscriptions()
		return
	}

	c.dispatchException(errors.Annotatef(ErrReconnectionExhausted, "after %d attempts", opts.MaxAttempts))
}

// refreshToken obtains a fresh token via the configured TokenRefresher and
// installs it for the next handshake. Without a refresher the existing token
// is kept.
func (c *Client) refreshToken() error {
	if c.params.TokenRefresher == nil {
		return nil
	}

	token, err := c.params.TokenRefresher.UpdateToken()
	if err != nil {
		return errors.Annotatef(err, "refreshing token")
	}

	c.mtx.Lock()
	c.token = token
	c.mtx.Unlock()

	return nil
}

// replaySubscriptions re-sends every recorded subscription on the fresh
// session: market-data records first, then order-report records, each in its
// original insertion order. A failed replay is logged and skipped; it does
// not abort the rest of the replay.
func (c *Client) replaySubscriptions() {
	mdSubs, orSubs := c.ledger.snapshot()

	for _, sub := range mdSubs {
		data, err := encodeMarketDataSubscribe(sub)
		if err != nil {
			c.log.Warn("replay: encoding market data subscription", "error", err)
			continue
		}
		if err := c.send(data); err != nil {
			c.log.Warn("replay: market data subscription failed", "symbols", sub.Symbols, "error", err)
		}
		c.clk.Sleep(replayDelay)
	}

	for _, sub := range orSubs {
		data, err := encodeOrderReportSubscribe(sub)
		if err != nil {
			c.log.Warn("replay: encoding order report subscription", "error", err)
			continue
		}
		if err := c.send(data); err != nil {
			c.log.Warn("replay: order report subscription failed", "account", sub.Account, "error", err)
		}
		c.clk.Sleep(replayDelay)
	}

	c.log.Info("subscription replay complete", "marketData", len(mdSubs), "orderReports", len(orSubs))
}
