package types

import "strings"

// Tags are normalized key-value annotations on an instance. Providers
// convert their native tag/label shapes into this form before owner
// resolution runs.
type Tags map[string]string

// TagsFromPtrMap converts map[string]*string tag shapes, dropping nil
// values.
func TagsFromPtrMap(in map[string]*string) Tags {
	if len(in) == 0 {
		return Tags{}
	}
	out := make(Tags, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		out[k] = *v
	}
	return out
}

// TagsFromMap copies a plain string map.
func TagsFromMap(in map[string]string) Tags {
	out := make(Tags, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Lookup returns the value for key, matching case-insensitively.
func (t Tags) Lookup(key string) (string, bool) {
	if v, ok := t[key]; ok {
		return v, true
	}
	for k, v := range t {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Merge returns a copy of t with entries from other added. Keys
// already present in t win.
func (t Tags) Merge(other Tags) Tags {
	out := make(Tags, len(t)+len(other))
	for k, v := range other {
		out[k] = v
	}
	for k, v := range t {
		out[k] = v
	}
	return out
}
