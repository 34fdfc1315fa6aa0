package chain

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// NormalizeBaseUnits converts the numeric encodings seen at the RPC
// boundary (native integers, *big.Int, JSON numbers, decimal strings,
// 0x-hex strings) into one canonical *big.Int base-unit representation,
// losslessly. Negative and fractional values are rejected: base-unit
// amounts are always non-negative integers. Mixed representations must
// never propagate past this boundary.
func NormalizeBaseUnits(v any) (*big.Int, error) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, fmt.Errorf("nil big.Int")
		}
		if x.Sign() < 0 {
			return nil, fmt.Errorf("negative amount %s", x)
		}
		return new(big.Int).Set(x), nil
	case big.Int:
		return NormalizeBaseUnits(&x)
	case uint8:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case uint:
		return new(big.Int).SetUint64(uint64(x)), nil
	case int8:
		return normalizeInt64(int64(x))
	case int16:
		return normalizeInt64(int64(x))
	case int32:
		return normalizeInt64(int64(x))
	case int64:
		return normalizeInt64(x)
	case int:
		return normalizeInt64(int64(x))
	case float64:
		// JSON numbers decode as float64. Reject anything that is not an
		// exactly-representable non-negative integer.
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 || math.Trunc(x) != x {
			return nil, fmt.Errorf("non-integral amount %v", x)
		}
		n, _ := new(big.Float).SetFloat64(x).Int(nil)
		return n, nil
	case json.Number:
		return normalizeString(string(x))
	case string:
		return normalizeString(x)
	default:
		return nil, fmt.Errorf("unsupported amount type %T", v)
	}
}

func normalizeInt64(x int64) (*big.Int, error) {
	if x < 0 {
		return nil, fmt.Errorf("negative amount %d", x)
	}
	return big.NewInt(x), nil
}

func normalizeString(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}

	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return n, nil
}
