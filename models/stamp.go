package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// NullStamp is an optional nanosecond timestamp. The zero value is absent,
// which keeps "never set" distinct from "set at time zero".
type NullStamp struct {
	Nanos uint64
	Valid bool
}

// StampOf returns a present NullStamp.
func StampOf(nanos uint64) NullStamp {
	return NullStamp{Nanos: nanos, Valid: true}
}

// Get returns the value and whether it is present.
func (n NullStamp) Get() (uint64, bool) { return n.Nanos, n.Valid }

func (n NullStamp) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendUint(nil, n.Nanos, 10), nil
}

func (n *NullStamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = NullStamp{}
		return nil
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("models: stamp: %w", err)
	}
	*n = StampOf(v)
	return nil
}

// Scan implements sql.Scanner. Columns are BIGINT, so drivers hand back
// int64; some return []byte or string.
func (n *NullStamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = NullStamp{}
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("models: stamp: negative value %d", v)
		}
		*n = StampOf(uint64(v))
		return nil
	case []byte:
		return n.scanString(string(v))
	case string:
		return n.scanString(v)
	}
	return fmt.Errorf("models: stamp: unsupported type %T", src)
}

func (n *NullStamp) scanString(s string) error {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("models: stamp: %w", err)
	}
	*n = StampOf(v)
	return nil
}

// Value implements driver.Valuer.
func (n NullStamp) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	if n.Nanos > math.MaxInt64 {
		return nil, fmt.Errorf("models: stamp %d overflows BIGINT", n.Nanos)
	}
	return int64(n.Nanos), nil
}
