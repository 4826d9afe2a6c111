package probe

import (
	"encoding/json"
	"maps"

	"github.com/pkg/errors"
)

// Fields is the structured half of a Detail: field name to scalar value.
type Fields map[string]any

func (f Fields) Bool(key string) bool {
	v, _ := f[key].(bool)
	return v
}

func (f Fields) String(key string) string {
	v, _ := f[key].(string)
	return v
}

func (f Fields) Float(key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func (f Fields) Uint(key string) uint64 {
	switch v := f[key].(type) {
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case uint:
		return uint64(v)
	case int:
		if v >= 0 {
			return uint64(v)
		}
	}
	return 0
}

// Detail carries per-attempt data in two renderings. The human rendering is
// computed from the same Fields that are dumped as JSON, so both always agree.
type Detail struct {
	fields Fields
	human  func(Fields) string
}

func NewDetail(fields Fields, human func(Fields) string) Detail {
	return Detail{
		fields: maps.Clone(fields),
		human:  human,
	}
}

// Fields returns a copy of the structured payload.
func (d Detail) Fields() Fields {
	return maps.Clone(d.fields)
}

func (d Detail) Human() string {
	if d.human == nil {
		return ""
	}
	return d.human(d.fields)
}

// JSON returns the compact JSON object with keys in sorted order.
func (d Detail) JSON() (string, error) {
	fields := d.fields
	if fields == nil {
		fields = Fields{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", errors.Wrap(err, "Could not encode result detail")
	}
	return string(b), nil
}

// Render picks one of the two renderings.
func (d Detail) Render(asJSON bool) (string, error) {
	if asJSON {
		return d.JSON()
	}
	return d.Human(), nil
}
