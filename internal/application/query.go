package application

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// isoMillis renders timestamps as ISO-8601 with millisecond precision.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// encodeQuery flattens params into a Bitrix24 query string:
// nested objects become key[sub][subsub]=value and slices are indexed. Keys
// are emitted in sorted order. Nil values produce no segment.
func encodeQuery(params map[string]any) string {
	if params == nil {
		return ""
	}

	keys := slices.Sorted(maps.Keys(params))

	var parts []string
	for _, k := range keys {
		parts = appendQuery(parts, url.QueryEscape(k), params[k])
	}
	return strings.Join(parts, "&")
}

func appendQuery(parts []string, key string, v any) []string {
	switch val := v.(type) {
	case nil:
		return parts
	case time.Time:
		return append(parts, key+"="+url.QueryEscape(val.Format(isoMillis)))
	case json.Number:
		return append(parts, key+"="+url.QueryEscape(val.String()))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return parts
		}
		return appendQuery(parts, key, rv.Elem().Interface())

	case reflect.Map:
		type entry struct {
			name  string
			value any
		}
		items := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			items = append(items, entry{name: fmt.Sprint(iter.Key().Interface()), value: iter.Value().Interface()})
		}
		slices.SortFunc(items, func(a, b entry) int { return strings.Compare(a.name, b.name) })
		for _, it := range items {
			parts = appendQuery(parts, key+"["+url.QueryEscape(it.name)+"]", it.value)
		}
		return parts

	case reflect.Slice, reflect.Array:
		for i := range rv.Len() {
			parts = appendQuery(parts, key+"["+strconv.Itoa(i)+"]", rv.Index(i).Interface())
		}
		return parts

	case reflect.String:
		return append(parts, key+"="+url.QueryEscape(rv.String()))
	case reflect.Bool:
		return append(parts, key+"="+strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return append(parts, key+"="+strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return append(parts, key+"="+strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		return append(parts, key+"="+strconv.FormatFloat(rv.Float(), 'f', -1, rv.Type().Bits()))
	default:
		return append(parts, key+"="+url.QueryEscape(fmt.Sprint(v)))
	}
}
