package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Plugins hand back loosely typed documents. Known fields are decoded into
// struct fields; everything else is kept verbatim in Extra so it survives a
// round trip back into the plugin.

var stringKeys = map[string]struct{}{
	"id": {}, "platform": {}, "title": {}, "artist": {}, "album": {},
	"artwork": {}, "url": {}, "rawLrc": {}, "lrc": {}, "name": {},
	"avatar": {}, "description": {}, "date": {},
}

var numberKeys = map[string]struct{}{
	"duration": {}, "worksNum": {}, "playCount": {},
}

func marshalWithExtra(known any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}
	merged := make(map[string]any, len(extra)+8)
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func unmarshalWithExtra(data []byte, out any, known []string) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	raw := make(map[string]any)
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	coerceFields(raw)

	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return nil, err
	}

	for _, key := range known {
		delete(raw, key)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func coerceFields(raw map[string]any) {
	for key, value := range raw {
		if _, ok := stringKeys[key]; ok {
			switch v := value.(type) {
			case nil, string:
			case json.Number:
				raw[key] = v.String()
			case bool, float64, int, int64:
				raw[key] = fmt.Sprint(v)
			default:
				delete(raw, key)
			}
			continue
		}
		if _, ok := numberKeys[key]; ok {
			switch v := value.(type) {
			case nil, json.Number, float64, int, int64:
			case string:
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					raw[key] = f
				} else {
					delete(raw, key)
				}
			default:
				delete(raw, key)
			}
		}
	}
}

// Decode converts a loosely typed plugin value into out via JSON.
func Decode(value any, out any) error {
	if value == nil {
		return fmt.Errorf("plugin returned empty")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ToMap converts a typed value into the loosely typed form handed to plugins.
func ToMap(value any) map[string]any {
	out := make(map[string]any)
	data, err := json.Marshal(value)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}
