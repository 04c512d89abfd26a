package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"metatx/config"
	"metatx/core"
	"metatx/core/events"
	"metatx/core/types"
	"metatx/crypto"
	"metatx/indexer"
	"metatx/storage"
)

const (
	testJWTSecret = "rpc-test-secret"
	testIssuer    = "metatx-tests"
)

var testNow = time.UnixMilli(1_700_000_000_000)

type testEnv struct {
	server  *Server
	http    *httptest.Server
	node    *core.Node
	relayer crypto.AccountID
	signer  *crypto.PrivateKey
	hub     *Hub
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	relayer := crypto.ContractAddress("rpc-test-relayer")
	signer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	ix, err := indexer.Open("sqlite:" + filepath.Join(t.TempDir(), "indexer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	hub := NewHub()

	node, err := core.NewNode(storage.NewMemDB(), config.ParsedGenesis{
		Admin:       &relayer,
		Allocations: map[crypto.AccountID]*uint256.Int{relayer: uint256.NewInt(10_000)},
	},
		core.WithEmitter(events.Multi{ix, hub}),
		core.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	cfg := Config{
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
		Auth:               AuthConfig{HMACSecret: testJWTSecret, Issuer: testIssuer},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	server := NewServer(node, relayer, cfg, WithIndexer(ix), WithHub(hub))
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: server, http: ts, node: node, relayer: relayer, signer: signer, hub: hub}
}

func (e *testEnv) token(t *testing.T, scopes ...string) string {
	t.Helper()
	token, err := IssueToken(testJWTSecret, testIssuer, "", "tests", scopes, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func (e *testEnv) call(t *testing.T, token, method string, params ...interface{}) (int, rawResponse) {
	t.Helper()
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		rawParams = append(rawParams, encoded)
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
		"params":  rawParams,
	})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded rawResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (e *testEnv) signedEnvelope(t *testing.T, callee crypto.AccountID, selector types.Selector, input []byte, nonce uint64) EnvelopeParams {
	t.Helper()
	env := &types.Envelope{
		From:             e.signer.AccountID(),
		Callee:           callee,
		Selector:         selector,
		Input:            input,
		TransferredValue: new(uint256.Int),
		GasLimit:         1_000_000,
		Nonce:            uint256.NewInt(nonce),
		Expiration:       uint64(testNow.Add(time.Hour).UnixMilli()),
	}
	sig, err := env.Sign(e.signer)
	require.NoError(t, err)
	return EnvelopeParams{Envelope: env, Signature: "0x" + hex.EncodeToString(sig)}
}

func decodeResult(t *testing.T, resp rawResponse, dst interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error response")
	require.NoError(t, json.Unmarshal(resp.Result, dst))
}

func decodeErrorData(t *testing.T, resp rawResponse) ErrorData {
	t.Helper()
	require.NotNil(t, resp.Error)
	var data ErrorData
	require.NoError(t, json.Unmarshal(resp.Error.Data, &data))
	return data
}
