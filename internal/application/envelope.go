package application

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

// envelope is a decoded Bitrix24 response body.
type envelope struct {
	result gjson.Result
	err    *model.ProviderError
}

func parseEnvelope(raw []byte) (envelope, error) {
	if !gjson.ValidBytes(raw) {
		return envelope{}, ErrInvalidResponse
	}

	root := gjson.ParseBytes(raw)
	var env envelope
	env.result = root.Get("result")

	if e := root.Get("error"); e.Exists() && e.Type != gjson.Null {
		env.err = model.NewProviderError(json.RawMessage(raw))
	}

	return env, nil
}

func (e envelope) data() json.RawMessage {
	if !e.result.Exists() {
		return nil
	}
	return json.RawMessage(e.result.Raw)
}

// entries returns the members of an object value in document order. Bitrix24
// encodes an empty map as [], which yields no entries.
func entries(v gjson.Result) []gjsonEntry {
	if !v.IsObject() {
		return nil
	}
	var out []gjsonEntry
	v.ForEach(func(key, value gjson.Result) bool {
		out = append(out, gjsonEntry{key: key.String(), value: value})
		return true
	})
	return out
}

type gjsonEntry struct {
	key   string
	value gjson.Result
}
