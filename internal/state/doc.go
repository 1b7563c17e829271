// Package state holds the shared assistant configuration record and the
// rules for changing it.
//
// The package provides:
//   - Record: the single configuration record (color, volume, voice, ...)
//   - Value and Patch: tagged raw values decoded at the HTTP/MQTT boundary
//   - Engine: per-field validation, coercion and clamping
//   - VoiceSanitizer: normalises voice IDs, falling back to a configured default
//   - Store: the thread-safe owner of the record, with ordered change observers
//   - ClientRegistry: the set of linked client IDs
//
// # Atomicity
//
// A patch either commits every recognised field or none of them. The store
// merges into a copy of the record and swaps it in under its write lock.
//
// # Usage
//
//	store := state.NewStore(state.Options{Voice: state.Voice{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel"}})
//	patch, err := state.DecodePatch(body)
//	if err != nil {
//	    return err
//	}
//	rec, err := store.Apply(patch, "iphone")
package state
