package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// a wrapper to emulate a sum type: jsonrpcid = string | int
type jsonrpcid interface {
	isJSONRPCID()
}

// JSONRPCStringID a wrapper for JSON-RPC string IDs
type JSONRPCStringID string

func (JSONRPCStringID) isJSONRPCID()      {}
func (id JSONRPCStringID) String() string { return string(id) }

// JSONRPCIntID a wrapper for JSON-RPC integer IDs
type JSONRPCIntID int

func (JSONRPCIntID) isJSONRPCID()      {}
func (id JSONRPCIntID) String() string { return fmt.Sprintf("%d", id) }

func idFromInterface(idInterface interface{}) (jsonrpcid, error) {
	switch id := idInterface.(type) {
	case string:
		return JSONRPCStringID(id), nil
	case float64:
		// json.Unmarshal uses float64 for all numbers; the id SHOULD NOT
		// contain decimals, so they are truncated.
		return JSONRPCIntID(int(id)), nil
	default:
		typ := reflect.TypeOf(id)
		return nil, fmt.Errorf("json-rpc ID (%v) is of unknown type (%v)", id, typ)
	}
}

//----------------------------------------
// REQUEST

// In3Request is the "in3" section attached to every outgoing request. It
// tells the node which proof to produce.
type In3Request struct {
	Verification   string           `json:"verification,omitempty"`
	Version        string           `json:"version,omitempty"`
	ChainID        ChainID          `json:"chainId,omitempty"`
	Signers        []common.Address `json:"signers,omitempty"`
	Finality       uint64           `json:"finality,omitempty"`
	LatestBlock    uint64           `json:"latestBlock,omitempty"`
	VerifiedHashes []common.Hash    `json:"verifiedHashes,omitempty"`
	UseFullProof   bool             `json:"useFullProof,omitempty"`
	NoStats        bool             `json:"noStats,omitempty"`
	Sig            hexutil.Bytes    `json:"sig,omitempty"`
}

type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      jsonrpcid       `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	In3     *In3Request     `json:"in3,omitempty"`
}

// UnmarshalJSON custom JSON unmarshaling due to jsonrpcid being string or int
func (req *RPCRequest) UnmarshalJSON(data []byte) error {
	unsafeReq := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id,omitempty"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		In3     *In3Request     `json:"in3,omitempty"`
	}{}

	if err := json.Unmarshal(data, &unsafeReq); err != nil {
		return err
	}

	req.JSONRPC = unsafeReq.JSONRPC
	req.Method = unsafeReq.Method
	req.Params = unsafeReq.Params
	req.In3 = unsafeReq.In3
	if unsafeReq.ID == nil { // notification
		return nil
	}
	id, err := idFromInterface(unsafeReq.ID)
	if err != nil {
		return err
	}
	req.ID = id

	return nil
}

func NewRPCRequest(id jsonrpcid, method string, params json.RawMessage) RPCRequest {
	return RPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

func (req RPCRequest) String() string {
	return fmt.Sprintf("RPCRequest{%s %s/%s}", req.ID, req.Method, req.Params)
}

//----------------------------------------
// RESPONSE

// RPCError is an error reported by a node. Nodes prefix internal failures
// with "Error:"; any other message is the result of bad user input.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (err RPCError) Error() string {
	const baseFormat = "RPC error %v - %s"
	if len(err.Data) > 0 {
		return fmt.Sprintf(baseFormat+": %s", err.Code, err.Message, err.Data)
	}
	return fmt.Sprintf(baseFormat, err.Code, err.Message)
}

// In3Response is the "in3" section a node attaches to its response.
type In3Response struct {
	Proof               json.RawMessage `json:"proof,omitempty"`
	LastNodeList        uint64          `json:"lastNodeList,omitempty"`
	LastValidatorChange uint64          `json:"lastValidatorChange,omitempty"`
	CurrentBlock        uint64          `json:"currentBlock,omitempty"`
	Version             string          `json:"version,omitempty"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      jsonrpcid       `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	In3     *In3Response    `json:"in3,omitempty"`
}

// UnmarshalJSON custom JSON unmarshaling due to jsonrpcid being string or int
func (resp *RPCResponse) UnmarshalJSON(data []byte) error {
	unsafeResp := &struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *RPCError       `json:"error,omitempty"`
		In3     *In3Response    `json:"in3,omitempty"`
	}{}
	if err := json.Unmarshal(data, &unsafeResp); err != nil {
		return err
	}

	resp.JSONRPC = unsafeResp.JSONRPC
	resp.Error = unsafeResp.Error
	resp.Result = unsafeResp.Result
	resp.In3 = unsafeResp.In3
	if unsafeResp.ID == nil {
		return nil
	}
	id, err := idFromInterface(unsafeResp.ID)
	if err != nil {
		return err
	}
	resp.ID = id
	return nil
}

func NewRPCSuccessResponse(id jsonrpcid, res json.RawMessage) RPCResponse {
	return RPCResponse{JSONRPC: "2.0", ID: id, Result: res}
}

func NewRPCErrorResponse(id jsonrpcid, code int, msg string) RPCResponse {
	return RPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: msg},
	}
}

func (resp RPCResponse) String() string {
	if resp.Error == nil {
		return fmt.Sprintf("RPCResponse{%s %s}", resp.ID, resp.Result)
	}
	return fmt.Sprintf("RPCResponse{%s %v}", resp.ID, resp.Error)
}

// RPCParseError is returned if the request body could not be parsed. The id
// MUST be null in this case.
func RPCParseError(err error) RPCResponse {
	return NewRPCErrorResponse(nil, -32700, "Parse error: "+err.Error())
}

func RPCInvalidRequestError(id jsonrpcid, err error) RPCResponse {
	return NewRPCErrorResponse(id, -32600, "Invalid Request: "+err.Error())
}

func RPCMethodNotFoundError(id jsonrpcid) RPCResponse {
	return NewRPCErrorResponse(id, -32601, "Method not found")
}

func RPCInternalError(id jsonrpcid, err error) RPCResponse {
	return NewRPCErrorResponse(id, -32603, "Internal error: "+err.Error())
}

// Response is a decoded node response. It lives only as long as the call
// that produced it.
type Response struct {
	Result json.RawMessage
	Error  *RPCError
	In3    *In3Response
	// Node is the URL of the node that answered.
	Node string
}

// DecodeResponses decodes a node's body into n responses. A body may be a
// single object (n must be 1) or an array of exactly n objects.
func DecodeResponses(node string, body []byte, n int) ([]*Response, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response from %s", node)
	}

	var raw []RPCResponse
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode batch response: %w", err)
		}
	case '{':
		var single RPCResponse
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		raw = []RPCResponse{single}
	default:
		return nil, fmt.Errorf("response is neither object nor array: %.20q", body)
	}

	if len(raw) != n {
		return nil, fmt.Errorf("expected %d responses, got %d", n, len(raw))
	}

	out := make([]*Response, len(raw))
	for i, r := range raw {
		if r.Error == nil && len(r.Result) == 0 {
			return nil, fmt.Errorf("response #%d has neither result nor error", i)
		}
		out[i] = &Response{Result: r.Result, Error: r.Error, In3: r.In3, Node: node}
	}
	return out, nil
}
