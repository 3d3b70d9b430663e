package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CallFrame is one frame of a callTracer result
type CallFrame struct {
	Type         string         `json:"type"`
	From         common.Address `json:"from"`
	To           common.Address `json:"to"`
	Gas          hexutil.Uint64 `json:"gas"`
	GasUsed      hexutil.Uint64 `json:"gasUsed"`
	Input        hexutil.Bytes  `json:"input"`
	Output       hexutil.Bytes  `json:"output"`
	Error        string         `json:"error,omitempty"`
	RevertReason string         `json:"revertReason,omitempty"`
	Calls        []CallFrame    `json:"calls,omitempty"`
}

// ContainsError reports whether this frame or any nested frame failed with
// an error containing substr
func (f *CallFrame) ContainsError(substr string) bool {
	if strings.Contains(strings.ToLower(f.Error), substr) {
		return true
	}
	for i := range f.Calls {
		if f.Calls[i].ContainsError(substr) {
			return true
		}
	}
	return false
}
