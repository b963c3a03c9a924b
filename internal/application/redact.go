package application

import "github.com/ericfisherdev/b24bridge/internal/domain/model"

const fileContentKey = "fileContent"

// carriesFileContent reports whether v holds a fileContent key at any depth.
func carriesFileContent(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		if _, ok := val[fileContentKey]; ok {
			return true
		}
		for _, child := range val {
			if carriesFileContent(child) {
				return true
			}
		}
	case []any:
		for _, child := range val {
			if carriesFileContent(child) {
				return true
			}
		}
	}
	return false
}

// redactValue returns a copy of v with every fileContent key removed. The
// input is left untouched.
func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if k == fileContentKey {
				continue
			}
			out[k] = redactValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = redactValue(child)
		}
		return out
	default:
		return v
	}
}

// redactedCalls builds the loggable view of a chunk.
func redactedCalls(calls []model.APICall) []map[string]any {
	out := make([]map[string]any, 0, len(calls))
	for _, call := range calls {
		out = append(out, map[string]any{
			"id":     call.ID,
			"method": call.Method,
			"data":   redactValue(call.Data),
		})
	}
	return out
}

func chunkCarriesFileContent(calls []model.APICall) bool {
	for _, call := range calls {
		if carriesFileContent(call.Data) {
			return true
		}
	}
	return false
}
