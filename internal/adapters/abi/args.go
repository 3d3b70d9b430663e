package abi

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// coerce converts a loosely typed value into the Go type abi.Pack expects for t
func coerce(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		return toAddress(v)
	case abi.UintTy, abi.IntTy:
		n, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		return sizedInt(t, n)
	case abi.BoolTy:
		return toBool(v)
	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case abi.BytesTy:
		return toBytes(v)
	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("expected at most %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.SliceTy, abi.ArrayTy:
		return toList(t, v)
	case abi.TupleTy:
		return toTuple(t, v)
	default:
		return nil, fmt.Errorf("unsupported type %s", t.String())
	}
}

func toAddress(v any) (common.Address, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case string:
		if !common.IsHexAddress(a) {
			return common.Address{}, fmt.Errorf("invalid address %q", a)
		}
		return common.HexToAddress(a), nil
	default:
		return common.Address{}, fmt.Errorf("expected address, got %T", v)
	}
}

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		return new(big.Int).Set(n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return nil, fmt.Errorf("%v is not an exact integer, pass it as a string", n)
		}
		return big.NewInt(int64(n)), nil
	case json.Number:
		return parseBigInt(n.String())
	case string:
		return parseBigInt(n)
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

func parseBigInt(s string) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// sizedInt range checks n and converts it to the native type for sizes up to 64 bits
func sizedInt(t abi.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range for %s", n, t.String())
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("%s out of range for %s", n, t.String())
		}
	}

	if t.Size > 64 {
		return n, nil
	}
	out := reflect.New(t.GetType()).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out.Interface(), nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected bool, got %v", v)
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		decoded, err := hexutil.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %w", b, err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("expected hex string, got %T", v)
	}
}

func toList(t abi.Type, v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	if t.T == abi.ArrayTy && len(items) != t.Size {
		return nil, fmt.Errorf("expected %d items, got %d", t.Size, len(items))
	}

	var out reflect.Value
	if t.T == abi.ArrayTy {
		out = reflect.New(t.GetType()).Elem()
	} else {
		out = reflect.MakeSlice(t.GetType(), len(items), len(items))
	}
	for i, item := range items {
		elem, err := coerce(*t.Elem, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(elem))
	}
	return out.Interface(), nil
}

// toTuple accepts a list in declaration order or a map keyed by component name
func toTuple(t abi.Type, v any) (any, error) {
	values := make([]any, len(t.TupleElems))
	switch fields := v.(type) {
	case []any:
		if len(fields) != len(t.TupleElems) {
			return nil, fmt.Errorf("expected %d components, got %d", len(t.TupleElems), len(fields))
		}
		copy(values, fields)
	case map[string]any:
		for i, name := range t.TupleRawNames {
			field, ok := fields[name]
			if !ok {
				return nil, fmt.Errorf("missing component %q", name)
			}
			values[i] = field
		}
	default:
		return nil, fmt.Errorf("expected tuple, got %T", v)
	}

	out := reflect.New(t.TupleType).Elem()
	for i, elemType := range t.TupleElems {
		field, err := coerce(*elemType, values[i])
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", t.TupleRawNames[i], err)
		}
		out.Field(i).Set(reflect.ValueOf(field))
	}
	return out.Interface(), nil
}
