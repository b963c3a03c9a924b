package application

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

// MapQuery describes an entity lookup map: the elements of Method whose
// FilterField is one of FilterValues, keyed by that field.
type MapQuery struct {
	Method       string
	FilterField  string
	FilterValues []any
	AuxFields    []string
	// TypeID is the smart-process entityTypeId; zero omits it.
	TypeID int
}

// GetMap returns the entities matching q keyed by their FilterField value.
// An empty FilterValues returns an empty map without any request.
func (c *Client) GetMap(ctx context.Context, p model.Portal, q MapQuery) (map[string]model.Entity, error) {
	out := map[string]model.Entity{}
	if len(q.FilterValues) == 0 {
		return out, nil
	}

	idField := listIDField(q.Method)
	selectFields := make([]any, 0, len(q.AuxFields)+2)
	selectFields = append(selectFields, idField, q.FilterField)
	for _, f := range q.AuxFields {
		selectFields = append(selectFields, f)
	}

	values := make([]any, len(q.FilterValues))
	copy(values, q.FilterValues)

	data := map[string]any{
		"select": selectFields,
		"filter": map[string]any{"=" + q.FilterField: values},
	}
	if q.TypeID != 0 {
		data["entityTypeId"] = q.TypeID
	}

	res, err := c.GetList(ctx, p, model.APICall{Method: q.Method, Data: data})
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, fmt.Errorf("map %s by %s: %w", q.Method, q.FilterField, res.Error)
	}

	for _, entity := range res.Data {
		v, ok := entity[q.FilterField]
		if !ok || v == nil {
			continue
		}
		out[mapKey(v)] = entity
	}
	return out, nil
}

// GetCRMMap is GetMap for a method of the crm family, given without the
// "crm." prefix.
func (c *Client) GetCRMMap(ctx context.Context, p model.Portal, q MapQuery) (map[string]model.Entity, error) {
	q.Method = "crm." + q.Method
	return c.GetMap(ctx, p, q)
}

func mapKey(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
