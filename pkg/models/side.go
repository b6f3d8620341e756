package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Side is the direction of an order. The zero value is not a valid side.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

// ParseSide accepts "BUY"/"SELL" in any case.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	}
	return 0, false
}

// Opposite returns the side a taker crosses against.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	}
	return 0
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	}
	return "UNKNOWN"
}

// MarshalText keeps the wire and JSON form as "BUY"/"SELL".
func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid order side %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	parsed, ok := ParseSide(string(text))
	if !ok {
		return fmt.Errorf("invalid order side %q", string(text))
	}
	*s = parsed
	return nil
}

// Value stores the side as its string form.
func (s Side) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid order side %d", uint8(s))
	}
	return s.String(), nil
}

func (s *Side) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	case nil:
		*s = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into Side", src)
}
