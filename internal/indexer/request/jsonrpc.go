package request

import (
	"encoding/json"
	"fmt"
)

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      any    `json:"id"`
}

// JSONRPCBody encodes a JSON-RPC 2.0 call.
func JSONRPCBody(method string, params any, id any) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("json-rpc method is required")
	}
	if id == nil {
		id = 1
	}
	return json.Marshal(jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
}
