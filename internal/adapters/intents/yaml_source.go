package intents

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/trebuchet-org/txm/internal/domain/models"
	"github.com/trebuchet-org/txm/internal/usecase"
	"gopkg.in/yaml.v3"
)

// File is the layout of an intents file:
//
//	transactions:
//	  - to: "0x..."
//	    contract: Token
//	    function: transfer
//	    args: ["0x...", "1000000000000000000"]
//	  - to: "0x..."
//	    value: "0x2386f26fc10000"
//	    data: "0x"
type File struct {
	Transactions []Intent `yaml:"transactions"`
}

// Intent is one transaction entry
type Intent struct {
	To       string         `yaml:"to"`
	Value    string         `yaml:"value,omitempty"`
	Data     string         `yaml:"data,omitempty"`
	Contract string         `yaml:"contract,omitempty"`
	Function string         `yaml:"function,omitempty"`
	Args     []any          `yaml:"args,omitempty"`
	Deadline uint64         `yaml:"deadline,omitempty"`
	Gas      uint64         `yaml:"gas,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// YAMLSource reads intents files
type YAMLSource struct{}

func NewYAMLSource() *YAMLSource {
	return &YAMLSource{}
}

func (s *YAMLSource) Load(path string) ([]models.TransactionParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read intents file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates an intents document
func Parse(data []byte) ([]models.TransactionParams, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse intents: %w", err)
	}

	params := make([]models.TransactionParams, 0, len(file.Transactions))
	for i, intent := range file.Transactions {
		p, err := intent.params()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		params = append(params, p)
	}
	return params, nil
}

func (in Intent) params() (models.TransactionParams, error) {
	var p models.TransactionParams

	if !common.IsHexAddress(in.To) {
		return p, fmt.Errorf("invalid to address %q", in.To)
	}
	p.To = common.HexToAddress(in.To)

	p.Value = new(big.Int)
	if in.Value != "" {
		v, ok := new(big.Int).SetString(strings.ReplaceAll(in.Value, "_", ""), 0)
		if !ok || v.Sign() < 0 {
			return p, fmt.Errorf("invalid value %q", in.Value)
		}
		p.Value = v
	}

	if in.Data != "" {
		if in.Contract != "" {
			return p, fmt.Errorf("data and contract are mutually exclusive")
		}
		data, err := hexutil.Decode(in.Data)
		if err != nil {
			return p, fmt.Errorf("invalid data: %w", err)
		}
		p.Calldata = data
	}
	if in.Function != "" && in.Contract == "" {
		return p, fmt.Errorf("function %s needs a contract", in.Function)
	}

	p.ContractName = in.Contract
	p.FunctionName = in.Function
	p.Args = in.Args
	p.Deadline = in.Deadline
	p.Gas = in.Gas
	p.Metadata = in.Metadata
	return p, nil
}

var _ usecase.IntentSource = (*YAMLSource)(nil)
