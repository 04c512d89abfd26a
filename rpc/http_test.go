package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"metatx/core/events"
	"metatx/core/types"
	"metatx/native/flipper"
)

func TestExecuteAdvancesNonceAndIndexes(t *testing.T) {
	env := newTestEnv(t, nil)
	signer := env.signer.AccountID().String()
	relay := env.token(t, ScopeRelay)

	status, resp := env.call(t, "", "forwarder_getNonce", SignerParams{Signer: signer})
	require.Equal(t, http.StatusOK, status)
	var nonce NonceResult
	decodeResult(t, resp, &nonce)
	require.Equal(t, "0", nonce.Nonce)

	flipperAddr, err := env.node.ContractAddress("flipper")
	require.NoError(t, err)
	params := env.signedEnvelope(t, flipperAddr, flipper.SelectorFlip, nil, 0)

	status, resp = env.call(t, "", "forwarder_verify", params)
	require.Equal(t, http.StatusOK, status)
	var verified VerifyResult
	decodeResult(t, resp, &verified)
	require.True(t, verified.Valid)

	status, resp = env.call(t, relay, "forwarder_execute", params)
	require.Equal(t, http.StatusOK, status)
	var executed ExecuteResult
	decodeResult(t, resp, &executed)
	require.True(t, executed.NonceConsumed)
	require.Equal(t, verified.Digest, executed.Digest)
	require.Equal(t, env.relayer.String(), executed.Relayer)

	_, resp = env.call(t, "", "forwarder_getNonce", SignerParams{Signer: signer})
	decodeResult(t, resp, &nonce)
	require.Equal(t, "1", nonce.Nonce)

	_, resp = env.call(t, "", "flipper_get")
	var value FlipperResult
	decodeResult(t, resp, &value)
	require.True(t, value.Value)

	_, resp = env.call(t, "", "forwarder_listExecuted", SignerParams{Signer: signer})
	var rows []map[string]interface{}
	decodeResult(t, resp, &rows)
	require.Len(t, rows, 1)
	require.Equal(t, executed.Digest, rows[0]["digest"])
	require.Equal(t, signer, rows[0]["signer"])

	status, resp = env.call(t, relay, "forwarder_execute", params)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeExecution, resp.Error.Code)
	data := decodeErrorData(t, resp)
	require.Equal(t, "IncorrectNonce", data.Kind)
	require.NotNil(t, data.NonceConsumed)
	require.False(t, *data.NonceConsumed)
}

func TestExecuteReportsConsumedNonceOnFailedCall(t *testing.T) {
	env := newTestEnv(t, nil)
	registryAddr, err := env.node.ContractAddress("registry")
	require.NoError(t, err)
	// The registry has no such message, so the nested call fails after the
	// nonce is advanced.
	params := env.signedEnvelope(t, registryAddr, types.SelectorFromLabel("missing"), nil, 0)

	status, resp := env.call(t, env.token(t, ScopeRelay), "forwarder_execute", params)
	require.Equal(t, http.StatusBadRequest, status)
	data := decodeErrorData(t, resp)
	require.Equal(t, "TransactionFailed", data.Kind)
	require.NotNil(t, data.NonceConsumed)
	require.True(t, *data.NonceConsumed)
	require.NotEmpty(t, data.Digest)

	nonce, err := env.node.Nonce(context.Background(), env.signer.AccountID())
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce.Uint64())
}

func TestExecuteRequiresRelayScope(t *testing.T) {
	env := newTestEnv(t, nil)
	flipperAddr, err := env.node.ContractAddress("flipper")
	require.NoError(t, err)
	params := env.signedEnvelope(t, flipperAddr, flipper.SelectorFlip, nil, 0)

	status, resp := env.call(t, "", "forwarder_execute", params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = env.call(t, "not-a-jwt", "forwarder_execute", params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = env.call(t, env.token(t, ScopeAdmin), "forwarder_execute", params)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeForbidden, resp.Error.Code)

	nonce, err := env.node.Nonce(context.Background(), env.signer.AccountID())
	require.NoError(t, err)
	require.True(t, nonce.IsZero())
}

func TestExecuteRejectedWithoutConfiguredSecret(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Auth.HMACSecret = "" })
	flipperAddr, err := env.node.ContractAddress("flipper")
	require.NoError(t, err)
	params := env.signedEnvelope(t, flipperAddr, flipper.SelectorFlip, nil, 0)

	token, err := IssueToken(testJWTSecret, testIssuer, "", "tests", []string{ScopeRelay}, time.Hour, time.Now())
	require.NoError(t, err)
	status, _ := env.call(t, token, "forwarder_execute", params)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestTrustedForwarderAdministration(t *testing.T) {
	env := newTestEnv(t, nil)

	_, resp := env.call(t, "", "metatx_getTrustedForwarder", ContractParams{Contract: "flipper"})
	var current TrustedForwarderResult
	decodeResult(t, resp, &current)
	require.NotNil(t, current.Forwarder)
	require.Equal(t, env.node.ForwarderAddress().String(), *current.Forwarder)

	replacement := env.signer.AccountID().String()
	set := ContractParams{Contract: "flipper", Forwarder: replacement}

	status, _ := env.call(t, env.token(t, ScopeRelay), "metatx_setTrustedForwarder", set)
	require.Equal(t, http.StatusForbidden, status)

	status, resp = env.call(t, env.token(t, ScopeAdmin), "metatx_setTrustedForwarder", set)
	require.Equal(t, http.StatusOK, status)
	decodeResult(t, resp, &current)
	require.Equal(t, replacement, *current.Forwarder)

	_, resp = env.call(t, "", "metatx_getTrustedForwarder", ContractParams{Contract: "registry"})
	decodeResult(t, resp, &current)
	require.Equal(t, env.node.ForwarderAddress().String(), *current.Forwarder)
}

func TestRegistryAndBalanceQueries(t *testing.T) {
	env := newTestEnv(t, nil)

	_, resp := env.call(t, "", "registry_getName", AccountParams{Account: env.signer.AccountID().String()})
	var name NameResult
	decodeResult(t, resp, &name)
	require.Nil(t, name.Name)

	_, resp = env.call(t, "", "registry_getOwner", NameParams{Name: "alice"})
	var owner OwnerResult
	decodeResult(t, resp, &owner)
	require.Nil(t, owner.Owner)

	_, resp = env.call(t, "", "account_balance", AccountParams{Account: env.relayer.String()})
	var balance BalanceResult
	decodeResult(t, resp, &balance)
	require.Equal(t, "10000", balance.Balance)

	_, resp = env.call(t, "", "forwarder_address")
	var addr AddressResult
	decodeResult(t, resp, &addr)
	require.Equal(t, env.node.ForwarderAddress().String(), addr.Address)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	status, resp := env.call(t, "", "forwarder_unknown")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	status, resp = env.call(t, "", "forwarder_getNonce")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.call(t, "", "forwarder_getNonce", SignerParams{Signer: "not-an-account"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.call(t, "", "forwarder_getNonce", map[string]string{"signer": "x", "extra": "y"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	flipperAddr, err := env.node.ContractAddress("flipper")
	require.NoError(t, err)
	params := env.signedEnvelope(t, flipperAddr, flipper.SelectorFlip, nil, 0)
	params.Signature = "0x0102"
	status, resp = env.call(t, "", "forwarder_verify", params)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	httpResp, err := env.http.Client().Post(env.http.URL+"/", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusBadRequest, httpResp.StatusCode)
	var parsed rawResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&parsed))
	require.Equal(t, codeParseError, parsed.Error.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimitPerSecond = 0.001
		cfg.RateLimitBurst = 1
	})
	status, _ := env.call(t, "", "forwarder_address")
	require.Equal(t, http.StatusOK, status)

	status, resp := env.call(t, "", "forwarder_address")
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.call(t, "", "forwarder_address")

	resp, err := env.http.Client().Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, err = env.http.Client().Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "metatx_rpc_requests_total")
}

func TestEventStreamDeliversExecutions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?type=" + events.TypeEnvelopeExecuted
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool {
		env.hub.mu.Lock()
		defer env.hub.mu.Unlock()
		return len(env.hub.subs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	flipperAddr, err := env.node.ContractAddress("flipper")
	require.NoError(t, err)
	params := env.signedEnvelope(t, flipperAddr, flipper.SelectorFlip, nil, 0)
	status, _ := env.call(t, env.token(t, ScopeRelay), "forwarder_execute", params)
	require.Equal(t, http.StatusOK, status)

	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(payload, &evt))
	require.Equal(t, events.TypeEnvelopeExecuted, evt.Type)
	require.Equal(t, env.signer.AccountID().String(), evt.Attributes["caller"])
	require.Equal(t, env.relayer.String(), evt.Attributes["relayer"])
}
