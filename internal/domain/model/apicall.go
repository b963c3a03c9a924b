package model

import (
	"encoding/json"
	"fmt"
)

// APICall is a single Bitrix24 REST method invocation.
type APICall struct {
	// ID is the caller-assigned correlation key used inside a batch. When
	// empty, the call's position in the batch is used ("call_0", "call_1", ...).
	ID     string
	Method string
	Data   map[string]any
	// Start is the pagination cursor. It is an offset for list methods and an
	// opaque value for continuation pages returned by batch requests.
	Start any
}

// Entity is one element of a list response.
type Entity = map[string]any

// ProviderError is a logical error reported by Bitrix24 inside a successful
// HTTP response.
type ProviderError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	// Raw is the original error payload, kept for diagnostics when the error
	// does not follow the {error, error_description} convention.
	Raw json.RawMessage `json:"-"`
}

func (e *ProviderError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("bitrix24: %s: %s", e.Code, e.Description)
	case e.Code != "":
		return "bitrix24: " + e.Code
	case e.Description != "":
		return "bitrix24: " + e.Description
	default:
		return "bitrix24: error " + string(e.Raw)
	}
}

// NewProviderError builds a ProviderError from an error payload. Bitrix24
// reports errors as {"error": "CODE", "error_description": "..."} objects;
// a bare JSON string is taken as the code.
func NewProviderError(raw json.RawMessage) *ProviderError {
	pe := &ProviderError{Raw: append(json.RawMessage(nil), raw...)}

	var obj struct {
		Code        any    `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if code, ok := obj.Code.(string); ok {
			pe.Code = code
		}
		pe.Description = obj.Description
		return pe
	}

	var code string
	if err := json.Unmarshal(raw, &code); err == nil {
		pe.Code = code
	}
	return pe
}

// CallResult is the envelope of a single call. Data and Error may both be
// empty when the provider answered with neither field.
type CallResult struct {
	Data  json.RawMessage
	Error *ProviderError
}

// DecodeResult unmarshals the data payload of r into T. A provider error is
// returned as-is so callers can inspect it with errors.As.
func DecodeResult[T any](r CallResult) (T, error) {
	var out T
	if r.Error != nil {
		return out, r.Error
	}
	if len(r.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Data, &out); err != nil {
		return out, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

// BatchResult accumulates the sub-call results of a batch. A call id is
// present in at most one of Result and Errors.
type BatchResult struct {
	Result map[string]any
	Errors map[string]*ProviderError
}

// NewBatchResult returns an empty BatchResult with initialized maps.
func NewBatchResult() BatchResult {
	return BatchResult{
		Result: map[string]any{},
		Errors: map[string]*ProviderError{},
	}
}

// ListResult is the outcome of a paginated list call. Error may be set while
// Data still holds the pages fetched before the failure.
type ListResult struct {
	Data  []Entity
	Error *ProviderError
}
