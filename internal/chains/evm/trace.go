package evm

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

// ErrCreationNotInTrace is returned when a trace holds no successful creation of the
// requested address.
var ErrCreationNotInTrace = errors.New("contract creation not found in trace")

// parityTrace is one entry of a trace_transaction result.
type parityTrace struct {
	Type   string `json:"type"`
	Action struct {
		From           common.Address `json:"from"`
		Init           hexutil.Bytes  `json:"init"`
		CreationMethod string         `json:"creationMethod,omitempty"`
	} `json:"action"`
	Result *struct {
		Address common.Address `json:"address"`
		Code    hexutil.Bytes  `json:"code"`
	} `json:"result"`
	Error string `json:"error,omitempty"`
}

// callFrame is a callTracer frame from debug_traceTransaction.
type callFrame struct {
	Type   string          `json:"type"`
	From   common.Address  `json:"from"`
	To     *common.Address `json:"to,omitempty"`
	Input  hexutil.Bytes   `json:"input"`
	Output hexutil.Bytes   `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Calls  []callFrame     `json:"calls,omitempty"`
}

func creationFromParity(traces []parityTrace, address common.Address) (bytecode.Bytecode, error) {
	for _, t := range traces {
		if t.Type != "create" || t.Error != "" || t.Result == nil {
			continue
		}
		if t.Result.Address == address {
			return bytecode.Bytecode(t.Action.Init), nil
		}
	}
	return nil, ErrCreationNotInTrace
}

// creationFromCallFrame walks the call tree depth first.
func creationFromCallFrame(frame *callFrame, address common.Address) (bytecode.Bytecode, error) {
	if isCreate(frame.Type) && frame.Error == "" && frame.To != nil && *frame.To == address {
		return bytecode.Bytecode(frame.Input), nil
	}
	for i := range frame.Calls {
		if code, err := creationFromCallFrame(&frame.Calls[i], address); err == nil {
			return code, nil
		}
	}
	return nil, ErrCreationNotInTrace
}

func isCreate(callType string) bool {
	switch strings.ToUpper(callType) {
	case "CREATE", "CREATE2":
		return true
	}
	return false
}
