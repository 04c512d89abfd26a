package rpc

import (
	"encoding/json"

	"metatx/core/types"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeForbidden      = -32002
	codeExecution      = -32003
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id,omitempty"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorData accompanies execution errors. Kind is the stable error name
// clients switch on.
type ErrorData struct {
	Kind          string `json:"kind"`
	Detail        string `json:"detail,omitempty"`
	Digest        string `json:"digest,omitempty"`
	NonceConsumed *bool  `json:"nonceConsumed,omitempty"`
}

// EnvelopeParams carry a signed envelope.
type EnvelopeParams struct {
	Envelope  *types.Envelope `json:"envelope"`
	Signature string          `json:"signature"`
	// Value is the amount the relayer attaches, decimal or 0x-hex. It must
	// equal the envelope's transferred value.
	Value string `json:"value,omitempty"`
}

type AccountParams struct {
	Account string `json:"account"`
}

type SignerParams struct {
	Signer string `json:"signer"`
	Limit  int    `json:"limit,omitempty"`
}

type ContractParams struct {
	// Contract is a label (flipper, registry) or an account id.
	Contract  string `json:"contract"`
	Forwarder string `json:"forwarder,omitempty"`
}

type NameParams struct {
	Name string `json:"name"`
}

type NonceResult struct {
	Signer string `json:"signer"`
	Nonce  string `json:"nonce"`
}

type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Digest string `json:"digest"`
}

type ExecuteResult struct {
	Digest        string `json:"digest"`
	GasUsed       uint64 `json:"gasUsed"`
	NonceConsumed bool   `json:"nonceConsumed"`
	Timestamp     uint64 `json:"timestamp"`
	Relayer       string `json:"relayer"`
}

type AddressResult struct {
	Address string `json:"address"`
}

type TrustedForwarderResult struct {
	Contract  string  `json:"contract"`
	Forwarder *string `json:"forwarder"`
}

type FlipperResult struct {
	Value bool `json:"value"`
}

type NameResult struct {
	Account string  `json:"account"`
	Name    *string `json:"name"`
}

type OwnerResult struct {
	Name  string  `json:"name"`
	Owner *string `json:"owner"`
}

type BalanceResult struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}
