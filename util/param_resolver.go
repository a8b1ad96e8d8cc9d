package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile("{(.*?)}")

// ResolveParams replaces jsonpath references in params with values from flowData.
// A string that is a single reference such as "$.form.price" keeps the referenced type;
// references embedded in text as "{$.fee.id}" are substituted as strings.
func ResolveParams(flowData map[string]any, params map[string]any) map[string]any {
	data := make(map[string]any, len(params))
	resolveParams(flowData, params, data)
	return data
}

func resolveParams(flowData map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		output[k] = resolveValue(flowData, v)
	}
}

func resolveValue(flowData map[string]any, v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		resolveParams(flowData, val, out)
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, resolveValue(flowData, item))
		}
		return out
	case string:
		return resolveString(flowData, val)
	default:
		return v
	}
}

func resolveString(flowData map[string]any, s string) any {
	if strings.HasPrefix(s, "$.") {
		value, err := jsonpath.JsonPathLookup(flowData, s)
		if err != nil {
			return nil
		}
		return value
	}
	tokens := tokenPattern.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	newStr := s
	for _, token := range tokens {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(path, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(flowData, path)
		if err != nil {
			value = ""
		}
		newStr = strings.ReplaceAll(newStr, token, fmt.Sprintf("%v", value))
	}
	return newStr
}
