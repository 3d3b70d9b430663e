package abi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// Manifest maps ABI aliases to JSON files, relative to the manifest
//
//	[abis]
//	Token = "abis/Token.json"
type Manifest struct {
	ABIs map[string]string `toml:"abis"`
}

// Registry resolves ABI aliases registered at startup
type Registry struct {
	mu   sync.RWMutex
	abis map[string]*abi.ABI
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{abis: make(map[string]*abi.ABI)}
}

// NewRegistryFromConfig loads the manifest named by the config, if any
func NewRegistryFromConfig(cfg *config.RuntimeConfig) (*Registry, error) {
	r := NewRegistry()
	if cfg.ABIManifest == "" {
		return r, nil
	}
	if err := r.LoadManifest(cfg.ABIManifest); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadManifest registers every ABI listed in a TOML manifest
func (r *Registry) LoadManifest(path string) error {
	var manifest Manifest
	if _, err := toml.DecodeFile(path, &manifest); err != nil {
		return fmt.Errorf("failed to parse abi manifest %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for name, file := range manifest.ABIs {
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read abi %s: %w", name, err)
		}
		if err := r.RegisterJSON(name, data); err != nil {
			return err
		}
	}
	return nil
}

// RegisterJSON registers an ABI given either as a bare JSON array or as a
// compiler artifact with an "abi" field
func (r *Registry) RegisterJSON(name string, data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &artifact); err != nil {
			return fmt.Errorf("failed to parse artifact for %s: %w", name, err)
		}
		data = artifact.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse abi %s: %w", name, err)
	}
	r.Register(name, &parsed)
	return nil
}

// Register stores an already parsed ABI, replacing any previous alias
func (r *Registry) Register(name string, parsed *abi.ABI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abis[name] = parsed
}

func (r *Registry) Has(contractName string) bool {
	_, ok := r.get(contractName)
	return ok
}

// Names returns the registered aliases in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.abis))
	for name := range r.abis {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) get(contractName string) (*abi.ABI, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parsed, ok := r.abis[contractName]
	return parsed, ok
}

// Encode packs functionName(args...) of the aliased contract. Args may be
// loosely typed values such as those decoded from JSON or YAML.
func (r *Registry) Encode(contractName, functionName string, args []any) ([]byte, error) {
	parsed, ok := r.get(contractName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrABINotFound, contractName)
	}

	method, err := findMethod(parsed, functionName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", contractName, err)
	}
	if len(args) != len(method.Inputs) {
		return nil, fmt.Errorf("%s.%s expects %d arguments, got %d", contractName, method.Name, len(method.Inputs), len(args))
	}

	values := make([]any, len(args))
	for i, input := range method.Inputs {
		v, err := coerce(input.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s argument %d (%s): %w", contractName, method.Name, i, input.Type.String(), err)
		}
		values[i] = v
	}

	data, err := parsed.Pack(method.Name, values...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s.%s: %w", contractName, method.Name, err)
	}
	return data, nil
}

// findMethod accepts a bare name or a full signature like "transfer(address,uint256)"
func findMethod(parsed *abi.ABI, functionName string) (abi.Method, error) {
	if strings.Contains(functionName, "(") {
		for _, m := range parsed.Methods {
			if m.Sig == functionName {
				return m, nil
			}
		}
		return abi.Method{}, fmt.Errorf("function %s not found", functionName)
	}

	if m, ok := parsed.Methods[functionName]; ok {
		return m, nil
	}
	return abi.Method{}, fmt.Errorf("function %s not found", functionName)
}

// DescribeCall renders calldata as Contract.method(args) for display
func (r *Registry) DescribeCall(contractName string, data []byte) (string, error) {
	parsed, ok := r.get(contractName)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrABINotFound, contractName)
	}
	if len(data) < 4 {
		return "", fmt.Errorf("calldata too short")
	}

	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return "", err
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", fmt.Errorf("failed to decode %s.%s: %w", contractName, method.Name, err)
	}

	args := make([]string, len(values))
	for i, v := range values {
		args[i] = FormatValue(v, method.Inputs[i].Type.String())
	}
	return fmt.Sprintf("%s.%s(%s)", contractName, method.Name, strings.Join(args, ", ")), nil
}

var _ usecase.ABIRegistry = (*Registry)(nil)
