package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"

	"soundfault/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.JobFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap accepts feature values either at the top level or nested
// under "features".
func ParseJSONMap(obj map[string]interface{}) *normalize.JobFields {
	fields := &normalize.JobFields{Values: map[string]string{}}
	extras := map[string]string{}
	for key, val := range obj {
		if nested, ok := val.(map[string]interface{}); ok && normalize.Key(key) == "features" {
			for k, v := range nested {
				fields.Values[k] = stringify(v)
			}
			continue
		}
		if normalize.FeatureKey(key) != "" {
			fields.Values[key] = stringify(val)
			continue
		}
		extras[normalize.Key(key)] = stringify(val)
	}
	fields.ID = firstNonEmpty(extras, "id", "jobid", "requestid")
	fields.Category = firstNonEmpty(extras, "category", "tur", "device", "devicetype", "type")
	return fields
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
