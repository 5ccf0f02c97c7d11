package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/incubed/in3-go/libs/log"
	"github.com/incubed/in3-go/light"
	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

// JSON-RPC error codes used by the proxy.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
	// CodeUnverified is returned when no node delivered a verified response.
	CodeUnverified = -32001
	// CodeRateLimited is returned when the proxy is over its rate limit.
	CodeRateLimited = -32005
)

// makeJSONRPCHandler forwards every request of a single or batch call to
// exec and answers with the verified results.
func makeJSONRPCHandler(exec light.Executor, chainID types.ChainID, maxBodyBytes int64, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, hreq *http.Request) {
		if hreq.Method != http.MethodPost {
			http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
			return
		}
		if hreq.URL.Path != "/" {
			http.NotFound(w, hreq)
			return
		}

		b, err := io.ReadAll(http.MaxBytesReader(w, hreq.Body, maxBodyBytes))
		if err != nil {
			writeRPCResponse(w, logger, false, types.NewRPCErrorResponse(nil, CodeInvalidRequest,
				fmt.Sprintf("reading request body: %v", err)))
			return
		}

		requests, batch, err := parseRequests(b)
		if err != nil {
			writeRPCResponse(w, logger, false, types.RPCParseError(err))
			return
		}

		responses := make([]types.RPCResponse, 0, len(requests))
		for _, req := range requests {
			if req.ID == nil {
				logger.Debug("Ignoring notification", "method", req.Method)
				continue
			}
			responses = append(responses, execute(hreq.Context(), exec, chainID, req))
		}

		if len(responses) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeRPCResponse(w, logger, batch, responses...)
	}
}

// parseRequests parses a JSON-RPC request or request batch from data.
func parseRequests(data []byte) ([]types.RPCRequest, bool, error) {
	var reqs []types.RPCRequest
	var err error

	isArray := bytes.HasPrefix(bytes.TrimSpace(data), []byte("["))
	if isArray {
		err = json.Unmarshal(data, &reqs)
	} else {
		reqs = append(reqs, types.RPCRequest{})
		err = json.Unmarshal(data, &reqs[0])
	}
	if err != nil {
		return nil, false, err
	}
	if isArray && len(reqs) == 0 {
		return nil, false, errors.New("empty batch")
	}
	return reqs, isArray, nil
}

// toRequest converts an incoming JSON-RPC request. The in3 section may
// select the chain and turn verification off.
func toRequest(chainID types.ChainID, rpc types.RPCRequest) (*types.Request, error) {
	req := &types.Request{
		ID:      1,
		Method:  rpc.Method,
		Params:  rpc.Params,
		ChainID: chainID,
		Proof:   types.ProofStandard,
	}
	if in3 := rpc.In3; in3 != nil {
		if in3.ChainID != 0 {
			req.ChainID = in3.ChainID
		}
		switch in3.Verification {
		case "", "proof", "proofWithSignature":
		case "never":
			req.Proof = types.ProofNone
		default:
			return nil, fmt.Errorf("unknown verification %q", in3.Verification)
		}
		if in3.UseFullProof {
			req.Proof = types.ProofFull
		}
		req.Finality = in3.Finality
		req.Signers = in3.Signers
	}
	return req, req.ValidateBasic()
}

func execute(ctx context.Context, exec light.Executor, chainID types.ChainID, rpc types.RPCRequest) types.RPCResponse {
	req, err := toRequest(chainID, rpc)
	if err != nil {
		return types.RPCInvalidRequestError(rpc.ID, err)
	}

	res, err := exec.Execute(ctx, req)
	if err == nil {
		return types.NewRPCSuccessResponse(rpc.ID, res.Value)
	}

	var (
		errConfig    light.ErrConfig
		errExhausted light.ErrExhaustedRetries
		errRPC       light.ErrRPC
	)
	switch {
	case errors.As(err, &errConfig) && errors.Is(err, verifier.ErrUnsupported):
		return types.NewRPCErrorResponse(rpc.ID, CodeMethodNotFound, err.Error())
	case errors.As(err, &errConfig):
		return types.RPCInvalidRequestError(rpc.ID, err)
	case errors.As(err, &errExhausted) && errors.As(errExhausted.Last, &errRPC) && !errRPC.Server:
		// the request itself is at fault, pass on what the node said
		return types.RPCResponse{JSONRPC: "2.0", ID: rpc.ID, Error: &errRPC.Err}
	case errors.As(err, &errExhausted):
		return types.NewRPCErrorResponse(rpc.ID, CodeUnverified, err.Error())
	default:
		return types.RPCInternalError(rpc.ID, err)
	}
}

func writeRPCResponse(w http.ResponseWriter, logger log.Logger, batch bool, rs ...types.RPCResponse) {
	var v interface{}
	if batch {
		v = rs
	} else {
		v = rs[0]
	}
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.Error("Failed to write response", "err", err)
	}
}
