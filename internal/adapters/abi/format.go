package abi

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FormatValue formats a decoded argument for display
func FormatValue(value any, valueType string) string {
	switch v := value.(type) {
	case common.Address:
		return v.Hex()
	case *big.Int:
		return v.String()
	case []byte:
		if len(v) == 0 {
			return "0x"
		}
		if len(v) <= 32 {
			return hexutil.Encode(v)
		}
		return fmt.Sprintf("%s...(%d bytes)", hexutil.Encode(v[:16]), len(v))
	case string:
		if len(v) > 50 {
			return fmt.Sprintf("%.50s...(%d chars)", v, len(v))
		}
		return fmt.Sprintf("%q", v)
	case bool:
		return fmt.Sprintf("%t", v)
	}

	// fixed size byte arrays
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return hexutil.Encode(b)
	}

	if raw, err := json.Marshal(value); err == nil {
		s := string(raw)
		if len(s) > 100 {
			return fmt.Sprintf("%.100s...(%d chars)", s, len(s))
		}
		return s
	}
	return fmt.Sprintf("%v (%s)", value, valueType)
}
