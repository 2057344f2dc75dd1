package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// placeholderName is what the order service sends when no file was attached.
const placeholderName = "null"

// ID is an opaque order identifier. The service emits it either as a JSON
// string or as a number; both decode to the same textual form.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("order id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Order is one entry of the order list. Unknown fields are ignored.
type Order struct {
	ID       ID     `json:"id"`
	FileName string `json:"archivo_nombre"`
	Product  string `json:"producto"`
	Machine  string `json:"maquina"`
}

// HasFileName reports whether the order carries a usable file name. Absent,
// JSON null, blank and the literal "null" placeholder all count as missing.
func (o Order) HasFileName() bool {
	name := strings.TrimSpace(o.FileName)
	return name != "" && name != placeholderName
}

// AssignedTo reports whether the order targets machineID. An empty
// machineID accepts every order.
func (o Order) AssignedTo(machineID string) bool {
	if machineID == "" {
		return true
	}
	return o.Machine == machineID
}

// Decode parses a JSON array of order objects.
func Decode(data []byte) ([]Order, error) {
	var orders []Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, err //nolint:wrapcheck // caller classifies decode failures
	}
	if orders == nil {
		// "null" is valid JSON but not an order list
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			return nil, fmt.Errorf("expected json array, got null")
		}
		orders = []Order{}
	}
	return orders, nil
}
