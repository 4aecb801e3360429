package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primaryapi/rofex-sdk-go/common"
)

func newAuthServer(t *testing.T, user, password, token string) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/getToken", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("X-Username") != user || r.Header.Get("X-Password") != password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Auth-Token", token)
	})

	mux.HandleFunc("/rest/instruments/all", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{
			"status": "OK",
			"instruments": [
				{"instrumentId": {"marketId": "ROFX", "symbol": "DLR/DIC23"}, "cficode": "FXXXSX"},
				{"instrumentId": {"marketId": "ROFX", "symbol": "DLR/ENE24"}, "cficode": "FXXXSX"}
			]
		}`))
	})

	mux.HandleFunc("/rest/segment/all", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{
			"status": "OK",
			"segments": [{"marketSegmentId": "DDF", "marketId": "ROFX"}]
		}`))
	})

	mux.HandleFunc("/rest/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{
			"status": "OK",
			"accounts": [{"id": 1, "name": "ACC-100", "brokerId": 1, "status": true}]
		}`))
	})

	return httptest.NewServer(mux)
}

func TestUpdateToken(t *testing.T) {
	ts := newAuthServer(t, "user1", "secret", "token-abc")
	defer ts.Close()

	client, err := NewClient(&ClientParams{
		APIURL:   ts.URL,
		User:     "user1",
		Password: "secret",
	})
	require.NoError(t, err)

	assert.Equal(t, "", client.Token())

	token, err := client.UpdateToken()
	require.NoError(t, err)
	assert.Equal(t, "token-abc", token)
	assert.Equal(t, "token-abc", client.Token())
}

func TestUpdateTokenBadCredentials(t *testing.T) {
	ts := newAuthServer(t, "user1", "secret", "token-abc")
	defer ts.Close()

	client, err := NewClient(&ClientParams{
		APIURL:   ts.URL,
		User:     "user1",
		Password: "wrong",
	})
	require.NoError(t, err)

	_, err = client.UpdateToken()
	assert.Equal(t, ErrAuthenticationFailed, errors.Cause(err))
	assert.Equal(t, "", client.Token())
}

func TestReferenceData(t *testing.T) {
	ts := newAuthServer(t, "user1", "secret", "token-abc")
	defer ts.Close()

	client, err := NewClient(&ClientParams{
		APIURL:   ts.URL,
		User:     "user1",
		Password: "secret",
	})
	require.NoError(t, err)

	// Calls before authentication fail fast.
	_, err = client.Instruments()
	assert.Equal(t, ErrNotAuthenticated, errors.Cause(err))

	_, err = client.UpdateToken()
	require.NoError(t, err)

	instruments, err := client.Instruments()
	require.NoError(t, err)
	require.Len(t, instruments, 2)
	assert.Equal(t, "DLR/DIC23", instruments[0].InstrumentID.Symbol)
	assert.Equal(t, common.MarketROFX, instruments[0].InstrumentID.MarketID)

	segments, err := client.Segments()
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "DDF", segments[0].MarketSegmentID)

	accounts, err := client.Accounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "ACC-100", accounts[0].Name)
}

func TestVenueErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/getToken", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Auth-Token", "token-abc")
	})
	mux.HandleFunc("/rest/instruments/all", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ERROR", "description": "internal error"}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	client, err := NewClient(&ClientParams{APIURL: ts.URL})
	require.NoError(t, err)

	_, err = client.UpdateToken()
	require.NoError(t, err)

	_, err = client.Instruments()
	require.Error(t, err)
	assert.Equal(t, "internal error", err.Error())
}
