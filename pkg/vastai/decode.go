package vastai

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Required fields per record kind. A payload missing any of these (or
// carrying them with the wrong JSON type) is rejected with a SchemaError
// instead of producing a half-filled value. Unknown extra fields are
// ignored so that marketplace schema additions do not break callers.
var (
	offerRequired    = []string{"id", "dph_total", "gpu_name", "num_gpus"}
	instanceRequired = []string{"id", "actual_status"}
)

// decodeOffers decodes the GET /bundles/ payload {"offers": [...]}.
func decodeOffers(raw json.RawMessage) ([]Offer, error) {
	var envelope struct {
		Offers []json.RawMessage `json:"offers"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, schemaError("offer", err)
	}
	if envelope.Offers == nil {
		return nil, &SchemaError{Kind: "offer", Field: "offers", Reason: "missing required field"}
	}

	offers := make([]Offer, 0, len(envelope.Offers))
	for _, obj := range envelope.Offers {
		offer, err := decodeOffer(obj)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func decodeOffer(raw json.RawMessage) (Offer, error) {
	if err := checkRequired("offer", raw, offerRequired); err != nil {
		return Offer{}, err
	}
	var offer Offer
	if err := json.Unmarshal(raw, &offer); err != nil {
		return Offer{}, schemaError("offer", err)
	}
	return offer, nil
}

// decodeInstances decodes the GET /instances/ payload {"instances": [...]}.
func decodeInstances(raw json.RawMessage) ([]Instance, error) {
	var envelope struct {
		Instances []json.RawMessage `json:"instances"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, schemaError("instance", err)
	}
	if envelope.Instances == nil {
		return nil, &SchemaError{Kind: "instance", Field: "instances", Reason: "missing required field"}
	}

	instances := make([]Instance, 0, len(envelope.Instances))
	for _, obj := range envelope.Instances {
		inst, err := decodeInstance(obj)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func decodeInstance(raw json.RawMessage) (Instance, error) {
	if err := checkRequired("instance", raw, instanceRequired); err != nil {
		return Instance{}, err
	}
	var inst Instance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return Instance{}, schemaError("instance", err)
	}
	return inst, nil
}

// checkRequired verifies the payload is a JSON object carrying every
// required field with a non-null value.
func checkRequired(kind string, raw json.RawMessage, required []string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &SchemaError{Kind: kind, Reason: "expected a JSON object"}
	}
	for _, name := range required {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			return &SchemaError{Kind: kind, Field: name, Reason: "missing required field"}
		}
	}
	return nil
}

// schemaError converts a json decoding failure into a SchemaError, naming
// the offending field when the decoder identifies one.
func schemaError(kind string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &SchemaError{
			Kind:   kind,
			Field:  typeErr.Field,
			Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}
	}
	return &SchemaError{Kind: kind, Reason: err.Error()}
}
