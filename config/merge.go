package config

import "maps"

// Merge combines two configs, primary winning over secondary.
//
// If both are empty the result is Default(). If exactly one is empty the
// other is returned as a copy with no defaults filled in. Otherwise every
// recognized key comes from primary when set there and from secondary when
// not; Extra is secondary's entries overlaid with primary's.
func Merge(primary, secondary *AppConfig) *AppConfig {
	pEmpty, sEmpty := primary.IsEmpty(), secondary.IsEmpty()
	switch {
	case pEmpty && sEmpty:
		return Default()
	case sEmpty:
		return primary.Clone()
	case pEmpty:
		return secondary.Clone()
	}

	out := &AppConfig{}
	for _, f := range schema {
		if f.isSet(primary) {
			f.copy(out, primary)
		} else {
			f.copy(out, secondary)
		}
	}

	if len(secondary.Extra)+len(primary.Extra) > 0 {
		out.Extra = make(map[string]any, len(secondary.Extra)+len(primary.Extra))
		maps.Copy(out.Extra, secondary.Extra)
		maps.Copy(out.Extra, primary.Extra)
	}

	switch {
	case primary.PyScript != nil:
		md := *primary.PyScript
		out.PyScript = &md
	case secondary.PyScript != nil:
		md := *secondary.PyScript
		out.PyScript = &md
	}

	return out
}
