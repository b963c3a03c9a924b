package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// CallRequest is the JSON body of the single call endpoint.
type CallRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// BatchCallRequest is one sub-call of a batch request.
type BatchCallRequest struct {
	ID     string         `json:"id,omitempty"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// BatchRequest is the JSON body of the batch endpoint.
type BatchRequest struct {
	Calls []BatchCallRequest `json:"calls"`
}

// ProviderErrorResponse is a Bitrix24 logical error as returned to API clients.
type ProviderErrorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// CallResponse is the JSON representation of a single call result.
type CallResponse struct {
	Result json.RawMessage        `json:"result,omitempty"`
	Error  *ProviderErrorResponse `json:"error,omitempty"`
}

// BatchResponse is the JSON representation of a batch result.
type BatchResponse struct {
	Result map[string]any                   `json:"result"`
	Errors map[string]ProviderErrorResponse `json:"errors"`
}

// ListResponse is the JSON representation of a list result. Result may be
// non-empty while Error is set.
type ListResponse struct {
	Result []model.Entity         `json:"result"`
	Count  int                    `json:"count"`
	Error  *ProviderErrorResponse `json:"error,omitempty"`
}

// InstallResponse acknowledges an install or lifecycle event.
type InstallResponse struct {
	Status   string `json:"status"`
	MemberID string `json:"member_id,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toProviderErrorResponse(e *model.ProviderError) *ProviderErrorResponse {
	if e == nil {
		return nil
	}
	code := e.Code
	if code == "" {
		code = "UNKNOWN"
	}
	return &ProviderErrorResponse{Code: code, Description: e.Description}
}

func toCallResponse(r model.CallResult) CallResponse {
	return CallResponse{Result: r.Data, Error: toProviderErrorResponse(r.Error)}
}

func toBatchResponse(r model.BatchResult) BatchResponse {
	resp := BatchResponse{
		Result: r.Result,
		Errors: make(map[string]ProviderErrorResponse, len(r.Errors)),
	}
	if resp.Result == nil {
		resp.Result = map[string]any{}
	}
	for id, e := range r.Errors {
		resp.Errors[id] = *toProviderErrorResponse(e)
	}
	return resp
}

func toListResponse(r model.ListResult) ListResponse {
	data := r.Data
	if data == nil {
		data = []model.Entity{}
	}
	return ListResponse{Result: data, Count: len(data), Error: toProviderErrorResponse(r.Error)}
}
