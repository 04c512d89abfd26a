package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"metatx/core"
	"metatx/core/types"
	"metatx/crypto"
	"metatx/indexer"
)

type handlerError struct {
	status int
	err    *RPCError
}

type handlerFunc func(s *Server, ctx context.Context, req *RPCRequest) (interface{}, *handlerError)

type method struct {
	handler handlerFunc
	scopes  []string
}

var methods = map[string]method{
	"forwarder_getNonce":         {handler: (*Server).handleGetNonce},
	"forwarder_verify":           {handler: (*Server).handleVerify},
	"forwarder_execute":          {handler: (*Server).handleExecute, scopes: []string{ScopeRelay}},
	"forwarder_address":          {handler: (*Server).handleForwarderAddress},
	"forwarder_listExecuted":     {handler: (*Server).handleListExecuted},
	"metatx_getTrustedForwarder": {handler: (*Server).handleGetTrustedForwarder},
	"metatx_setTrustedForwarder": {handler: (*Server).handleSetTrustedForwarder, scopes: []string{ScopeAdmin}},
	"flipper_get":                {handler: (*Server).handleFlipperGet},
	"registry_getName":           {handler: (*Server).handleRegistryGetName},
	"registry_getOwner":          {handler: (*Server).handleRegistryGetOwner},
	"account_balance":            {handler: (*Server).handleAccountBalance},
}

func invalidParams(message string, data interface{}) *handlerError {
	return &handlerError{status: http.StatusBadRequest, err: &RPCError{Code: codeInvalidParams, Message: message, Data: data}}
}

// executionError maps a node error onto a JSON-RPC error carrying its kind.
func executionError(err error, data ErrorData) *handlerError {
	data.Kind = core.ErrorKind(err)
	if data.Kind == core.KindInternal {
		return &handlerError{status: http.StatusInternalServerError, err: &RPCError{Code: codeServerError, Message: "internal error", Data: data}}
	}
	data.Detail = err.Error()
	return &handlerError{status: http.StatusBadRequest, err: &RPCError{Code: codeExecution, Message: data.Kind, Data: data}}
}

func decodeParams(req *RPCRequest, dst interface{}) *handlerError {
	if len(req.Params) != 1 {
		return invalidParams("exactly one parameter object required", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

func parseAccount(field, value string) (crypto.AccountID, *handlerError) {
	if strings.TrimSpace(value) == "" {
		return crypto.AccountID{}, invalidParams(field+" required", nil)
	}
	id, err := crypto.DecodeAccountID(strings.TrimSpace(value))
	if err != nil {
		return crypto.AccountID{}, invalidParams("invalid "+field, err.Error())
	}
	return id, nil
}

func (s *Server) resolveContract(value string) (crypto.AccountID, *handlerError) {
	value = strings.TrimSpace(value)
	if addr, err := s.node.ContractAddress(value); err == nil {
		return addr, nil
	}
	return parseAccount("contract", value)
}

func optionalAccount(id crypto.AccountID, ok bool) *string {
	if !ok {
		return nil
	}
	s := id.String()
	return &s
}

func digestHex(d [crypto.HashLength]byte) string {
	return "0x" + hex.EncodeToString(d[:])
}

func decodeEnvelopeParams(req *RPCRequest) (*EnvelopeParams, []byte, *handlerError) {
	var params EnvelopeParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, nil, herr
	}
	if params.Envelope == nil {
		return nil, nil, invalidParams("envelope required", nil)
	}
	sig, err := types.DecodeHexBytes(params.Signature)
	if err != nil {
		return nil, nil, invalidParams("invalid signature encoding", err.Error())
	}
	if len(sig) != crypto.SignatureLength {
		return nil, nil, invalidParams(fmt.Sprintf("signature must be %d bytes", crypto.SignatureLength), len(sig))
	}
	return &params, sig, nil
}

func (s *Server) handleGetNonce(ctx context.Context, req *RPCRequest) (interface{}, *handlerError) {
	var params SignerParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	signer, herr := parseAccount("signer", params.Signer)
	if herr != nil {
		return nil, herr
	}
	nonce, err := s.node.Nonce(ctx, signer)
	if err != nil {
		return nil, executionError(err, ErrorData{})
	}
	return NonceResult{Signer: signer.String(), Nonce: nonce.Dec()}, nil
}

func (s *Server) handleVerify(ctx context.Context, req *RPCRequest) (interface{}, *handlerError) {
	params, sig, herr := decodeEnvelopeParams(req)
	if herr != nil {
		return nil, herr
	}
	digest, err := params.Envelope.Digest()
	if err != nil {
		return nil, invalidParams("invalid envelope", err.Error())
	}
	if err := s.node.Verify(ctx, params.Envelope, sig); err != nil {
		return nil, executionError(err, ErrorData{Digest: digestHex(digest)})
	}
	return VerifyResult{Valid: true, Digest: digestHex(digest)}, nil
}

func (s *Server) handleExecute(ctx context.Context, req *RPCRequest) (interface{}, *handlerError) {
	params, sig, herr := decodeEnvelopeParams(req)
	if herr != nil {
		return nil, herr
	}
	value, err := types.ParseUint128(params.Value)
	if err != nil {
		return nil, invalidParams("invalid value", err.Error())
	}
	result, err := s.node.Execute(ctx, s.relayer, params.Envelope, sig, value)
	if err != nil {
		data := ErrorData{}
		if result != nil {
			consumed := result.NonceConsumed
			data.NonceConsumed = &consumed
			data.Digest = digestHex(result.Digest)
		}
		return nil, executionError(err, data)
	}
	return ExecuteResult{
		Digest:        digestHex(result.Digest),
		GasUsed:       result.GasUsed,
		NonceConsumed: result.NonceConsumed,
		Timestamp:     result.Timestamp,
		Relayer:       s.relayer.String(),
	}, nil
}

func (s *Server) handleForwarderAddress(_ context.Context, _ *RPCRequest) (interface{}, *handlerError) {
	return AddressResult{Address: s.node.ForwarderAddress().String()}, nil
}

func (s *Server) handleListExecuted(ctx context.Context, req *RPCRequest) (interface{}, *handlerError) {
	if s.indexer == nil {
		return nil, &handlerError{status: http.StatusServiceUnavailable, err: &RPCError{Code: codeServerError, Message: "indexer disabled"}}
	}
	var params SignerParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	signer, herr := parseAccount("signer", params.Signer)
	if herr != nil {
		return nil, herr
	}
	if params.Limit < 0 || params.Limit > indexer.MaxListLimit {
		return nil, invalidParams(fmt.Sprintf("limit must be between 0 and %d", indexer.MaxListLimit), params.Limit)
	}
	rows, err := s.indexer.ListBySigner(ctx, signer, params.Limit)
	if err != nil {
		return nil, executionError(err, ErrorData{})
	}
	if rows == nil {
		rows = []indexer.ExecutedEnvelope{}
	}
	return rows, nil
}

func (s *Server) handleGetTrustedForwarder(ctx context.Context, req *RPCRequest) (interface{}, *handlerError) {
	var params ContractParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	contract, herr := s.resolveContract(params.Contract)
	if herr != nil {
		return nil, herr
	}
	fwd, ok, err := s.node.TrustedForwarder(ctx, contract)
	if err != nil {
		return nil, executionError(err, ErrorData{})
	}
	return TrustedForwarderResult{Contract: contract.String(), Forwarder: optionalAccount(fwd, ok)}, nil
}

func (s *Server) handleSetTrustedForwarder(ctx context.Context, req *RPCRequest) (interface{}, *handlerError) {
	var params ContractParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	contract, herr := s.resolveContract(params.Contract)
	if herr != nil {
		return nil, herr
	}
	fwd, herr := parseAccount("forwarder", params.Forwarder)
	if herr != nil {
		return nil, herr
	}
	if err := s.node.SetTrustedForwarder(ctx, s.relayer, contract, fwd); err != nil {
		return nil, executionError(err, ErrorData{})
	}
	return TrustedForwarderResult{Contract: contract.String(), Forwarder: optionalAccount(fwd, true)}, nil
}

func (s *Server) handleFlipperGet(ctx context.Context, _ *RPCRequest) (interface{}, *handlerError) {
	value, err := s.node.FlipValue(ctx)
	if err != nil {
		return nil, executionError(err, ErrorData{})
	}
	return FlipperResult{Value: value}, nil
}

func (s *Server) handleRegistryGetName(ctx context.Context, req *RPCRequest) (interface{}, *handlerError) {
	var params AccountParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	account, herr := parseAccount("account", params.Account)
	if herr != nil {
		return nil, herr
	}
	name, ok, err := s.node.NameOf(ctx, account)
	if err != nil {
		return nil, executionError(err, ErrorData{})
	}
	result := NameResult{Account: account.String()}
	if ok {
		result.Name = &name
	}
	return result, nil
}

func (s *Server) handleRegistryGetOwner(ctx context.Context, req *RPCRequest) (interface{}, *handlerError) {
	var params NameParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	if params.Name == "" {
		return nil, invalidParams("name required", nil)
	}
	owner, ok, err := s.node.OwnerOf(ctx, params.Name)
	if err != nil {
		return nil, executionError(err, ErrorData{})
	}
	return OwnerResult{Name: params.Name, Owner: optionalAccount(owner, ok)}, nil
}

func (s *Server) handleAccountBalance(ctx context.Context, req *RPCRequest) (interface{}, *handlerError) {
	var params AccountParams
	if herr := decodeParams(req, &params); herr != nil {
		return nil, herr
	}
	account, herr := parseAccount("account", params.Account)
	if herr != nil {
		return nil, herr
	}
	balance, err := s.node.Balance(ctx, account)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, &handlerError{status: http.StatusRequestTimeout, err: &RPCError{Code: codeServerError, Message: err.Error()}}
		}
		return nil, executionError(err, ErrorData{})
	}
	return BalanceResult{Account: account.String(), Balance: balance.Dec()}, nil
}
