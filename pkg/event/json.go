// Copyright 2026 Provenact Labs
//
// JSON wire form for events. The payload is embedded as a "payload" object
// whose concrete type follows the event_type tag.

package event

import (
	"encoding/json"
	"fmt"
)

type eventWire struct {
	EventID            string              `json:"event_id"`
	EventType          Type                `json:"event_type"`
	ItemID             string              `json:"item_id,omitempty"`
	Height             uint64              `json:"height"`
	Timestamp          int64               `json:"timestamp"`
	PreviousEventHash  string              `json:"previous_event_hash"`
	ActorSignature     *ActorSignature     `json:"actor_signature,omitempty"`
	OperatorSignatures []OperatorSignature `json:"operator_signatures,omitempty"`
	AnchorTxHash       string              `json:"anchor_tx_hash,omitempty"`
	Payload            json.RawMessage     `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (e *Event) MarshalJSON() ([]byte, error) {
	eventType := e.EventType
	var raw json.RawMessage
	if e.Payload != nil {
		if eventType == "" {
			// A partial event (as sent to propose) takes its tag from the payload.
			eventType = e.Payload.EventType()
		}
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
		}
		raw = b
	}
	return json.Marshal(&eventWire{
		EventID:            e.EventID,
		EventType:          eventType,
		ItemID:             e.ItemID,
		Height:             e.Height,
		Timestamp:          e.Timestamp,
		PreviousEventHash:  e.PreviousEventHash,
		ActorSignature:     e.ActorSignature,
		OperatorSignatures: e.OperatorSignatures,
		AnchorTxHash:       e.AnchorTxHash,
		Payload:            raw,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.EventID = w.EventID
	e.EventType = w.EventType
	e.ItemID = w.ItemID
	e.Height = w.Height
	e.Timestamp = w.Timestamp
	e.PreviousEventHash = w.PreviousEventHash
	e.ActorSignature = w.ActorSignature
	e.OperatorSignatures = w.OperatorSignatures
	e.AnchorTxHash = w.AnchorTxHash
	e.Payload = nil

	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return nil
	}
	payload, err := NewPayload(w.EventType)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, w.EventType)
	}
	if err := json.Unmarshal(w.Payload, payload); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", w.EventType, err)
	}
	e.Payload = payload
	return nil
}
