package config

// Validate copies every recognized key of raw that has the expected type into
// a new AppConfig. Keys of the wrong type are left unset. Keys outside the
// schema are copied into Extra unchanged, except the reserved metadata key.
func Validate(raw map[string]any) *AppConfig {
	cfg, _ := validate(raw)
	return cfg
}

// rejected names a recognized key whose value had the wrong type. For an
// array kept without some of its elements, elements is how many were left out.
type rejected struct {
	key      string
	want     kind
	elements int
}

func validate(raw map[string]any) (*AppConfig, []rejected) {
	cfg := &AppConfig{}
	var dropped []rejected

	for _, f := range schema {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		n, ok := f.decode(cfg, v)
		switch {
		case !ok:
			dropped = append(dropped, rejected{key: f.key, want: f.kind})
		case n > 0:
			dropped = append(dropped, rejected{key: f.key, want: f.kind, elements: n})
		}
	}

	for k, v := range raw {
		if k == metadataKey {
			continue
		}
		if _, known := fieldByKey(k); known {
			continue
		}
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]any)
		}
		cfg.Extra[k] = v
	}

	return cfg, dropped
}
