package cache

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Records are stored as JSON. Relations and timestamps are wrapped in single-key
// objects so that they decode back to their Go types.
const (
	recordTag  = "$record"
	recordsTag = "$records"
	timeTag    = "$time"
)

type wireRecord struct {
	Entity string                 `json:"entity"`
	Values map[string]interface{} `json:"values"`
}

func encodeRecord(rec *schema.Record) ([]byte, error) {
	return json.Marshal(toWire(rec))
}

func decodeRecord(data []byte) (*schema.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w wireRecord
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to decode cached record: %w", err)
	}
	return fromWire(w.Entity, w.Values)
}

func toWire(rec *schema.Record) wireRecord {
	values := make(map[string]interface{}, len(rec.Values))
	for k, v := range rec.Values {
		values[k] = encodeValue(v)
	}
	return wireRecord{Entity: rec.Entity, Values: values}
}

func encodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *schema.Record:
		if val == nil {
			return nil
		}
		return map[string]interface{}{recordTag: toWire(val)}
	case []*schema.Record:
		list := make([]wireRecord, len(val))
		for i, r := range val {
			list[i] = toWire(r)
		}
		return map[string]interface{}{recordsTag: list}
	case time.Time:
		return map[string]interface{}{timeTag: val.Format(time.RFC3339Nano)}
	}
	return v
}

func fromWire(entity string, values map[string]interface{}) (*schema.Record, error) {
	rec := schema.NewRecord(entity, make(map[string]interface{}, len(values)))
	for k, v := range values {
		decoded, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", entity, k, err)
		}
		rec.Values[k] = decoded
	}
	return rec, nil
}

func decodeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			decoded, err := decodeValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	case map[string]interface{}:
		if len(val) == 1 {
			if tagged, ok, err := decodeTagged(val); ok {
				return tagged, err
			}
		}
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			decoded, err := decodeValue(elem)
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		}
		return out, nil
	}
	return v, nil
}

func decodeTagged(m map[string]interface{}) (interface{}, bool, error) {
	if raw, ok := m[recordTag]; ok {
		rec, err := wireToRecord(raw)
		return rec, true, err
	}
	if raw, ok := m[recordsTag]; ok {
		list, _ := raw.([]interface{})
		records := make([]*schema.Record, 0, len(list))
		for _, elem := range list {
			rec, err := wireToRecord(elem)
			if err != nil {
				return nil, true, err
			}
			records = append(records, rec)
		}
		return records, true, nil
	}
	if raw, ok := m[timeTag]; ok {
		s, _ := raw.(string)
		t, err := time.Parse(time.RFC3339Nano, s)
		return t, true, err
	}
	return nil, false, nil
}

func wireToRecord(raw interface{}) (*schema.Record, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed cached record")
	}
	entity, _ := m["entity"].(string)
	values, _ := m["values"].(map[string]interface{})
	return fromWire(entity, values)
}
