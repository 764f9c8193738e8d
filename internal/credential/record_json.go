package credential

import "encoding/json"

// recordKnownKeys are the fields the proxy itself owns. Anything else
// found in the file is carried through Extra untouched.
var recordKnownKeys = map[string]struct{}{
	"refresh_token": {},
	"access_token":  {},
	"expires_in":    {},
	"timestamp":     {},
	"enable":        {},
	"project_id":    {},
	"remark":        {},
	"email":         {},
}

type recordAlias Record

// UnmarshalJSON decodes the known fields and stashes unknown keys so a
// load/save cycle does not drop data written by other tools.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range recordKnownKeys {
		delete(raw, k)
	}
	*r = Record(alias)
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// MarshalJSON emits the known fields merged with any preserved extras.
// Known fields win on key collision.
func (r Record) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(recordAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, known := recordKnownKeys[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}
