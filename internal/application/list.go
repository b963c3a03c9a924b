package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

// listPageSize is the fixed page size of Bitrix24 list methods.
const listPageSize = 50

// listShape is where a list method puts its elements inside result.
type listShape int

const (
	// shapeArray: result is the element array.
	shapeArray listShape = iota
	// shapeItems: result is {"items": [...]} (crm.item.*).
	shapeItems
	// shapeTypes: result is {"types": [...]} (crm.type.*).
	shapeTypes
)

func (s listShape) String() string {
	switch s {
	case shapeArray:
		return "array"
	case shapeItems:
		return "items"
	case shapeTypes:
		return "types"
	default:
		return "unknown"
	}
}

// shapeForMethod resolves the response shape from the method family.
func shapeForMethod(method string) listShape {
	m := strings.ToLower(method)
	switch {
	case strings.HasPrefix(m, "crm.item."):
		return shapeItems
	case strings.HasPrefix(m, "crm.type."):
		return shapeTypes
	default:
		return shapeArray
	}
}

func (s listShape) unwrap(result gjson.Result) (gjson.Result, bool) {
	var list gjson.Result
	switch s {
	case shapeItems:
		list = result.Get("items")
	case shapeTypes:
		list = result.Get("types")
	default:
		list = result
	}
	return list, list.IsArray()
}

// decodePage extracts the elements of one page. When the payload does not
// match the expected shape the other shapes are tried before giving up.
func (s listShape) decodePage(result gjson.Result) ([]model.Entity, error) {
	list, ok := s.unwrap(result)
	if !ok {
		for _, alt := range []listShape{shapeArray, shapeItems, shapeTypes} {
			if alt == s {
				continue
			}
			if list, ok = alt.unwrap(result); ok {
				break
			}
		}
	}
	if !ok {
		if isEmptyResult(result) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: expected %s", ErrUnexpectedListShape, s)
	}

	elems := list.Array()
	page := make([]model.Entity, 0, len(elems))
	for _, el := range elems {
		entity, ok := el.Value().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element is %s", ErrUnexpectedListShape, el.Type)
		}
		page = append(page, entity)
	}
	return page, nil
}

func isEmptyResult(result gjson.Result) bool {
	if !result.Exists() || result.Type == gjson.Null {
		return true
	}
	return result.IsObject() && len(result.Map()) == 0
}

func isListMethod(method string) bool {
	m := strings.ToLower(method)
	return strings.Contains(m, "list") || strings.Contains(m, "get")
}

// listIDField is "id" for the crm.item family and "ID" elsewhere.
func listIDField(method string) string {
	if strings.HasPrefix(strings.ToLower(method), "crm.item.") {
		return "id"
	}
	return "ID"
}

// GetList walks every page of a list method using an id cursor: the filter
// gets >ID (or >id) starting at 0 and ordered ascending, and each full page
// moves the cursor to its last id. A provider error on any page stops the
// walk; the pages fetched so far are returned together with the error in
// ListResult.Error. The caller's call data is never modified.
func (c *Client) GetList(ctx context.Context, p model.Portal, call model.APICall) (model.ListResult, error) {
	if !isListMethod(call.Method) {
		return model.ListResult{}, fmt.Errorf("%w: %q", ErrNotListMethod, call.Method)
	}

	data, filter, err := prepareListData(call)
	if err != nil {
		return model.ListResult{}, err
	}

	idField := listIDField(call.Method)
	cursorKey := ">" + idField
	shape := shapeForMethod(call.Method)
	filter[cursorKey] = 0

	out := model.ListResult{Data: []model.Entity{}}
	var prevCursor any

	for {
		p, err = c.tokens.EnsureFresh(ctx, p)
		if err != nil {
			return model.ListResult{}, err
		}

		raw, err := c.post(ctx, p, call.Method, callBody(data, p.AccessToken))
		if err != nil {
			return model.ListResult{}, err
		}

		env, err := parseEnvelope(raw)
		if err != nil {
			return model.ListResult{}, fmt.Errorf("list %s: %w", call.Method, err)
		}
		if env.err != nil {
			out.Error = env.err
			return out, nil
		}

		page, err := shape.decodePage(env.result)
		if err != nil {
			return model.ListResult{}, fmt.Errorf("list %s: %w", call.Method, err)
		}
		out.Data = append(out.Data, page...)

		if len(page) != listPageSize {
			return out, nil
		}
		cursor, ok := page[len(page)-1][idField]
		if !ok || cursor == nil {
			return out, nil
		}
		if prevCursor != nil && fmt.Sprint(cursor) == fmt.Sprint(prevCursor) {
			return out, fmt.Errorf("list %s: %w at %v", call.Method, ErrListCursorStalled, cursor)
		}

		c.logger.Debug("list page fetched",
			"method", call.Method,
			"member_id", p.MemberID,
			"cursor", cursor,
			"total", len(out.Data),
		)

		prevCursor = cursor
		filter[cursorKey] = cursor
	}
}

// prepareListData deep-copies the call data and returns it together with its
// filter object, adding the filter and the ascending id order under the
// spelling (filter/order or FILTER/ORDER) the caller used.
func prepareListData(call model.APICall) (map[string]any, map[string]any, error) {
	data, _ := deepCopy(call.Data).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	filterKey, orderKey := "filter", "order"
	if _, lower := data["filter"]; !lower {
		if _, upper := data["FILTER"]; upper {
			filterKey, orderKey = "FILTER", "ORDER"
		}
	}

	var filter map[string]any
	switch f := data[filterKey].(type) {
	case nil:
		filter = map[string]any{}
	case map[string]any:
		filter = f
	default:
		return nil, nil, fmt.Errorf("%w: got %T", ErrInvalidFilter, f)
	}

	data[filterKey] = filter
	data[orderKey] = map[string]any{listIDField(call.Method): "ASC"}
	return data, filter, nil
}

// deepCopy copies the JSON-like containers of v. Other values are shared.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
