// Package config loads, validates and merges the declarative page
// configuration found in a <py-config> element.
//
// # Overview
//
// A configuration can come from two places: text fetched from the element's
// src attribute, and the element's inline text. Both are parsed (TOML by
// default, JSON when type="json"), validated against a fixed schema and merged
// over the built-in defaults. Inline values win over fetched ones.
//
//	loader := config.NewLoader(
//	    config.WithFetcher(source.NewFetcher()),
//	    config.WithReporter(doc),
//	)
//	cfg, err := loader.Load(ctx, doc.QuerySelector("py-config"))
//
// # Merge Rules
//
// [Merge] takes every recognized key from the primary config when it is set
// and from the secondary otherwise. Presence decides, not truthiness, so an
// explicit autoclose_loader = false survives a merge over the default true.
// Keys outside the schema are carried in [AppConfig.Extra].
//
// # Errors
//
// Malformed TOML fails with a [*SyntaxError] (errors.Is(err, ErrSyntax)).
// Malformed JSON fails with the decoder's own error. An unknown format fails
// with [ErrUnsupportedFormat]. Every failure is also reported to the page
// through the [Reporter].
package config
