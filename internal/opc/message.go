package opc

import (
	"encoding/json"
	"fmt"
)

// messageType identifies data-change messages on the wire.
const messageType = "opc_data_change"

type envelope struct {
	Type string `json:"type"`
	Node string `json:"node"`
	Data any    `json:"data"`
}

// EncodeDataChange serializes a data change into the wire message format:
//
//	{"type":"opc_data_change","node":"<id>","data":<flattened value>}
func EncodeDataChange(change DataChange) (string, error) {
	b, err := json.Marshal(envelope{
		Type: messageType,
		Node: change.NodeID,
		Data: Flatten(change.Value),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling message: %w", err)
	}
	return string(b), nil
}
