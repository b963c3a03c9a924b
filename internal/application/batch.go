package application

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
	"github.com/ericfisherdev/b24bridge/internal/obs"
)

const (
	// maxBatchSize is the Bitrix24 limit of sub-calls per batch request.
	maxBatchSize = 50
	// maxBatchRounds bounds continuation rounds for a single CallBatch.
	maxBatchRounds = 1000
)

// CallBatch executes calls through batch.json in chunks of at most 50,
// processed sequentially. List sub-calls that report a continuation cursor
// are re-submitted in a later round and their pages concatenated under the
// same call id. Sub-call failures are reported in BatchResult.Errors; any
// transport failure aborts the whole batch and returns no result.
func (c *Client) CallBatch(ctx context.Context, p model.Portal, calls []model.APICall) (model.BatchResult, error) {
	result := model.NewBatchResult()
	if len(calls) == 0 {
		return result, nil
	}

	pending, err := assignCallIDs(calls)
	if err != nil {
		return model.BatchResult{}, err
	}

	for round := 0; len(pending) > 0; round++ {
		if round >= maxBatchRounds {
			return model.BatchResult{}, fmt.Errorf("%w: %d rounds", ErrBatchRoundLimit, maxBatchRounds)
		}

		var next []model.APICall
		for chunk := range slices.Chunk(pending, maxBatchSize) {
			p, err = c.tokens.EnsureFresh(ctx, p)
			if err != nil {
				return model.BatchResult{}, err
			}

			cont, err := c.executeChunk(ctx, p, chunk, &result)
			if err != nil {
				return model.BatchResult{}, err
			}
			next = append(next, cont...)
		}
		pending = next
	}

	return result, nil
}

// assignCallIDs copies calls, giving every call without an id the id
// call_{index} of its position in the original input.
func assignCallIDs(calls []model.APICall) ([]model.APICall, error) {
	out := make([]model.APICall, len(calls))
	seen := make(map[string]struct{}, len(calls))

	for i, call := range calls {
		if strings.TrimSpace(call.Method) == "" {
			return nil, fmt.Errorf("batch call %d: %w", i, ErrEmptyMethod)
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", i)
		}
		if _, dup := seen[call.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCallID, call.ID)
		}
		seen[call.ID] = struct{}{}
		out[i] = call
	}
	return out, nil
}

// executeChunk sends one batch request, merges its outcome into acc and
// returns the continuation calls it reported.
func (c *Client) executeChunk(ctx context.Context, p model.Portal, chunk []model.APICall, acc *model.BatchResult) ([]model.APICall, error) {
	cmd := make(map[string]string, len(chunk))
	for _, call := range chunk {
		cmd[call.ID] = batchCommand(call)
	}

	if chunkCarriesFileContent(chunk) {
		c.logger.Debug("batch chunk carries file content, command log suppressed",
			"member_id", p.MemberID,
			"calls", len(chunk),
		)
	} else {
		c.logger.Debug("batch commands",
			"member_id", p.MemberID,
			"domain", p.Domain,
			"cmd", cmd,
		)
	}

	obs.BatchRequests.Inc()
	raw, err := c.post(ctx, p, "batch", map[string]any{
		"cmd":  cmd,
		"halt": 0,
		"auth": p.AccessToken,
	})
	if err != nil {
		c.logger.Error("batch chunk failed",
			"member_id", p.MemberID,
			"calls", redactedCalls(chunk),
		)
		return nil, err
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}

	if env.err != nil {
		// The whole request was rejected, e.g. an expired token.
		for _, call := range chunk {
			delete(acc.Result, call.ID)
			acc.Errors[call.ID] = env.err
		}
		return nil, nil
	}

	mergeBatchResults(acc, env.result.Get("result"))
	mergeBatchErrors(acc, env.result.Get("result_error"))

	return c.continuations(p, chunk, env.result.Get("result_next")), nil
}

// batchCommand renders a sub-call as method?query. A continuation cursor in
// Start wins over a start key in the call data.
func batchCommand(call model.APICall) string {
	params := make(map[string]any, len(call.Data)+1)
	maps.Copy(params, call.Data)
	if call.Start != nil {
		params["start"] = call.Start
	}

	query := encodeQuery(params)
	if query == "" {
		return call.Method
	}
	return call.Method + "?" + query
}

func mergeBatchResults(acc *model.BatchResult, results gjson.Result) {
	for _, e := range entries(results) {
		if _, failed := acc.Errors[e.key]; failed {
			continue
		}
		v := e.value.Value()

		prev, ok := acc.Result[e.key]
		if !ok {
			acc.Result[e.key] = v
			continue
		}
		if merged, ok := concatPages(prev, v); ok {
			acc.Result[e.key] = merged
		}
	}
}

func mergeBatchErrors(acc *model.BatchResult, errs gjson.Result) {
	for _, e := range entries(errs) {
		acc.Errors[e.key] = model.NewProviderError([]byte(e.value.Raw))
		delete(acc.Result, e.key)
	}
}

// concatPages joins two pages of the same list call: bare arrays, or objects
// wrapping the list in an items or types array.
func concatPages(prev, next any) (any, bool) {
	if a, ok := prev.([]any); ok {
		if b, ok := next.([]any); ok {
			return append(slices.Clip(a), b...), true
		}
		return nil, false
	}

	a, ok := prev.(map[string]any)
	if !ok {
		return nil, false
	}
	b, ok := next.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, field := range []string{"items", "types"} {
		aList, aOK := a[field].([]any)
		bList, bOK := b[field].([]any)
		if aOK && bOK {
			merged := maps.Clone(a)
			merged[field] = append(slices.Clip(aList), bList...)
			return merged, true
		}
	}
	return nil, false
}

func (c *Client) continuations(p model.Portal, chunk []model.APICall, next gjson.Result) []model.APICall {
	var out []model.APICall
	for _, e := range entries(next) {
		idx := slices.IndexFunc(chunk, func(call model.APICall) bool { return call.ID == e.key })
		if idx < 0 {
			c.logger.Warn("batch continuation for unknown call id",
				"member_id", p.MemberID,
				"call_id", e.key,
			)
			continue
		}
		call := chunk[idx]
		call.Start = e.value.Value()
		out = append(out, call)
	}
	return out
}
