// Package websocket provides a client for the Primary API websocket
// protocol: streaming market data, execution reports, and order entry.
//
// A Client maintains a single persistent session. Register handlers for the
// event categories you care about, then call Connect:
//
//	client, err := websocket.NewClient(&websocket.Params{
//		URL:   "wss://api.remarkets.primary.com.ar/",
//		Token: token,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client.AddMarketDataHandler(func(update websocket.MarketDataUpdate) {
//		fmt.Printf("%s: %v\n", update.Instrument.Symbol, update.Entries)
//	})
//
//	client.Connect()
//
//	client.MarketDataSubscription(
//		[]string{"DLR/DIC23"},
//		[]common.MarketDataEntry{common.Bids, common.Offers},
//		common.MarketROFX, 2,
//	)
//
// Subscriptions are recorded by the client. If the server drops the session
// with a policy-violation close (the venue's signal for expired
// credentials), the client reconnects with backoff, refreshes the token via
// the configured TokenRefresher, and replays every recorded subscription.
// One-shot commands (SendOrder, CancelOrder) are never replayed.
//
// Client-side faults that cannot be returned from any call, such as a failed
// reconnection run or a malformed inbound frame, are delivered to the
// exception handler set with SetExceptionHandler.
package websocket
