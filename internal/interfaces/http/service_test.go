package httpinterface

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
)

type stubWallet struct{ balance uint64 }

func (w stubWallet) CreateFeeTransaction(uint64, string) (ports.Transaction, error) {
	return ports.Transaction{}, nil
}
func (w stubWallet) CreateDepositTransaction(
	uint64, []byte, []byte, []ports.TxInput,
) (ports.Transaction, error) {
	return ports.Transaction{}, nil
}
func (w stubWallet) CreatePayoutTransaction(
	ports.Transaction, []byte, []byte,
) (ports.Transaction, error) {
	return ports.Transaction{}, nil
}
func (w stubWallet) SignInputs(tx ports.Transaction) (ports.Transaction, error) {
	return tx, nil
}
func (w stubWallet) BroadcastTransaction(
	tx ports.Transaction, done func(string, error),
) {
	done(tx.TxId, nil)
}
func (w stubWallet) Balance() (uint64, error) { return w.balance, nil }

func newTestService(t *testing.T, stopped chan struct{}) (*httptest.Server, *Authenticator) {
	t.Helper()
	auth, err := NewAuthenticator(t.TempDir())
	require.NoError(t, err)

	svc := NewService(ServiceOpts{
		Wallet:  stubWallet{balance: 42},
		Auth:    auth,
		Version: "0.1.0",
		Commit:  "abcdef",
		OnStop: func() {
			if stopped != nil {
				close(stopped)
			}
		},
	})
	ts := httptest.NewServer(svc.server.Handler)
	t.Cleanup(ts.Close)
	return ts, auth
}

func doRequest(
	t *testing.T, method, url, bearer string,
) (int, map[string]string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	body := map[string]string{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res.StatusCode, body
}

func TestVersionRequiresAuth(t *testing.T) {
	ts, auth := newTestService(t, nil)

	code, body := doRequest(t, http.MethodGet, ts.URL+"/v1/version", "")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Contains(t, body["error"], "bearer")

	code, body = doRequest(t, http.MethodGet, ts.URL+"/v1/version", auth.Secret())
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "0.1.0", body["version"])
	require.Equal(t, "abcdef", body["commit"])
}

func TestJwtBearerIsAccepted(t *testing.T) {
	ts, auth := newTestService(t, nil)

	token, err := auth.NewToken(jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	require.NoError(t, err)

	code, _ := doRequest(t, http.MethodGet, ts.URL+"/v1/version", token)
	require.Equal(t, http.StatusOK, code)
}

func TestBalance(t *testing.T) {
	ts, auth := newTestService(t, nil)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/balance", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+auth.Secret())
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	body := map[string]uint64{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.EqualValues(t, 42, body["balance"])
}

func TestStopInvokesHook(t *testing.T) {
	stopped := make(chan struct{})
	ts, auth := newTestService(t, stopped)

	code, _ := doRequest(t, http.MethodGet, ts.URL+"/v1/stop", auth.Secret())
	require.Equal(t, http.StatusMethodNotAllowed, code)

	code, body := doRequest(t, http.MethodPost, ts.URL+"/v1/stop", auth.Secret())
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "stopping", body["status"])

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop hook was not invoked")
	}
}

func TestSecretSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first, err := NewAuthenticator(dir)
	require.NoError(t, err)
	second, err := NewAuthenticator(dir)
	require.NoError(t, err)
	require.Equal(t, first.Secret(), second.Secret())
}
