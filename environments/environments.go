// Package environments describes the Primary API environments: the test
// environment (reMarkets) and production. It provides the well-known URLs
// for each, and optionally loads credentials and overrides from a YAML file.
package environments

import (
	"crypto/tls"
	"os"
	"time"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/primaryapi/rofex-sdk-go/common"
)

const defaultHeartbeat = 30 * time.Second

// Config is everything needed to reach one Primary API environment.
type Config struct {
	Environment common.Environment

	// APIURL is the REST base URL, with a trailing slash.
	APIURL string

	// WSURL is the websocket URL.
	WSURL string

	// Heartbeat is the websocket ping interval.
	Heartbeat time.Duration

	// InsecureSkipVerify disables TLS certificate verification. Some broker
	// installations of the API run with self-signed certificates.
	InsecureSkipVerify bool

	User     string
	Password string
	Account  string
}

// Get returns the default configuration for the given environment.
// Credentials are left empty.
func Get(env common.Environment) (Config, error) {
	switch env {
	case common.Remarket:
		return Config{
			Environment: common.Remarket,
			APIURL:      "https://api.remarkets.primary.com.ar/",
			WSURL:       "wss://api.remarkets.primary.com.ar/",
			Heartbeat:   defaultHeartbeat,
		}, nil

	case common.Live:
		return Config{
			Environment: common.Live,
			APIURL:      "https://api.primary.com.ar/",
			WSURL:       "wss://api.primary.com.ar/",
			Heartbeat:   defaultHeartbeat,
		}, nil
	}

	return Config{}, errors.Annotatef(common.ErrUnknownEnvironment, "%d", env)
}

// TLSConfig returns the TLS configuration implied by the Config, or nil if
// the defaults suffice.
func (c Config) TLSConfig() *tls.Config {
	if !c.InsecureSkipVerify {
		return nil
	}

	return &tls.Config{InsecureSkipVerify: true}
}

// configFile is the YAML shape of an environment config file; example file
// contents:
//
//	environment: remarket
//	user: sample-user
//	password: sample-password
//	account: REM100
//	heartbeat_seconds: 10
type configFile struct {
	Environment        string `yaml:"environment"`
	APIURL             string `yaml:"api_url"`
	WSURL              string `yaml:"ws_url"`
	HeartbeatSeconds   int    `yaml:"heartbeat_seconds"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Account            string `yaml:"account"`
}

// LoadFile reads a YAML config file and returns the configuration for the
// environment it names (remarket if it names none), with any URLs,
// heartbeat, or credentials from the file applied on top of the defaults.
func LoadFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config file %q", filename)
	}

	f := configFile{}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, errors.Annotatef(err, "parsing YAML from %q", filename)
	}

	env := common.Remarket
	if f.Environment != "" {
		env, err = common.EnvironmentFromName(f.Environment)
		if err != nil {
			return Config{}, errors.Trace(err)
		}
	}

	config, err := Get(env)
	if err != nil {
		return Config{}, errors.Trace(err)
	}

	if f.APIURL != "" {
		config.APIURL = f.APIURL
	}
	if f.WSURL != "" {
		config.WSURL = f.WSURL
	}
	if f.HeartbeatSeconds != 0 {
		config.Heartbeat = time.Duration(f.HeartbeatSeconds) * time.Second
	}
	if f.InsecureSkipVerify {
		config.InsecureSkipVerify = true
	}

	config.User = f.User
	config.Password = f.Password
	config.Account = f.Account

	return config, nil
}
