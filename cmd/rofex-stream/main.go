// Command rofex-stream connects to a Primary API environment, subscribes to
// market data (and optionally order reports), and prints every event to
// stdout.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/primaryapi/rofex-sdk-go/client/rest"
	"github.com/primaryapi/rofex-sdk-go/client/websocket"
	"github.com/primaryapi/rofex-sdk-go/common"
	"github.com/primaryapi/rofex-sdk-go/environments"
)

var (
	configFilename = flag.String("config", "", "YAML file with environment and credentials; flags override its values.")

	envName  = flag.String("env", "remarket", "Environment to connect to: remarket or live.")
	user     = flag.String("user", "", "API username. Consider using --config instead.")
	password = flag.String("password", "", "API password. Consider using --config instead.")
	account  = flag.String("account", "", "Trading account; enables order report subscription when given.")

	symbols = flag.StringSlice("symbol", nil, "Instrument symbol to subscribe to, e.g. DLR/DIC23. May be given multiple times.")
	entries = flag.StringSlice("entry", []string{"BI", "OF", "LA"}, "Market data entries to request.")
	depth   = flag.Int("depth", 1, "Book depth for bids and offers.")

	verbose = flag.Bool("verbose", false, "Enable debug logging.")
)

var (
	mdColor  = color.New(color.FgCyan)
	orColor  = color.New(color.FgGreen)
	errColor = color.New(color.FgRed)
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		errColor.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run() error {
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("session", uuid.New().String())

	config, err := loadConfig()
	if err != nil {
		return err
	}

	if len(*symbols) == 0 {
		return fmt.Errorf("no symbols given, use --symbol")
	}

	restClient, err := rest.NewClient(&rest.ClientParams{
		APIURL:    config.APIURL,
		User:      config.User,
		Password:  config.Password,
		TLSConfig: config.TLSConfig(),
	})
	if err != nil {
		return err
	}

	logger.Info("authenticating", "url", config.APIURL, "user", config.User)
	token, err := restClient.UpdateToken()
	if err != nil {
		return err
	}

	client, err := websocket.NewClient(&websocket.Params{
		URL:               config.WSURL,
		Token:             token,
		TokenRefresher:    restClient,
		HeartbeatInterval: config.Heartbeat,
		TLSConfig:         config.TLSConfig(),
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	client.AddMarketDataHandler(func(update websocket.MarketDataUpdate) {
		mdColor.Printf("MD %s", update.Instrument.Symbol)
		for entry, value := range update.Entries {
			mdColor.Printf("  %s=%s", entry, value)
		}
		mdColor.Println()
	})

	client.AddOrderReportHandler(func(report websocket.OrderReport) {
		orColor.Printf("OR %s\n", report.Report)
	})

	client.AddErrorHandler(func(venueErr websocket.VenueError) {
		errColor.Printf("venue error: %s\n", venueErr.Description)
	})

	client.SetExceptionHandler(func(err error) {
		errColor.Printf("client exception: %s\n", err)
	})

	client.Connect()
	if !client.IsConnected() {
		return fmt.Errorf("could not connect to %s", config.WSURL)
	}

	mdEntries := make([]common.MarketDataEntry, 0, len(*entries))
	for _, e := range *entries {
		mdEntries = append(mdEntries, common.MarketDataEntry(e))
	}

	if err := client.MarketDataSubscription(*symbols, mdEntries, common.MarketROFX, *depth); err != nil {
		return err
	}

	if config.Account != "" {
		if err := client.OrderReportSubscription(config.Account, true); err != nil {
			return err
		}
	}

	// Wait until the OS signal is received, at which point we'll close the
	// connection and quit
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt

	logger.Info("closing connection")
	return client.Close()
}

// loadConfig builds the effective configuration: the config file (if any) on
// top of the environment defaults, then flags on top of that.
func loadConfig() (environments.Config, error) {
	var config environments.Config

	if *configFilename != "" {
		var err error
		config, err = environments.LoadFile(*configFilename)
		if err != nil {
			return environments.Config{}, err
		}
	} else {
		env, err := common.EnvironmentFromName(*envName)
		if err != nil {
			return environments.Config{}, err
		}

		config, err = environments.Get(env)
		if err != nil {
			return environments.Config{}, err
		}
	}

	if *user != "" {
		config.User = *user
	}
	if *password != "" {
		config.Password = *password
	}
	if *account != "" {
		config.Account = *account
	}

	return config, nil
}
