package model

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// Song is a single document of the songs collection.  Only id, title and
// lyrics carry meaning for the service; every other field supplied by a
// client is stored and returned untouched, so the document is kept as a
// plain string-keyed map rather than a fixed struct.
//
// Well-known keys:
//
//	_id    – identifier assigned by the document store.
//	id     – application-assigned integer identifier, unique per collection.
//	title  – song title.
//	lyrics – song lyrics.
type Song map[string]any

const (
	FieldStoreID = "_id"
	FieldID      = "id"
	FieldTitle   = "title"
	FieldLyrics  = "lyrics"
)

// ID returns the application id of the song.  The second result is false
// when the field is missing or is not an integral number.
func (s Song) ID() (int64, bool) {
	return toInt64(s[FieldID])
}

// Title returns the title field as stored; nil when absent.
func (s Song) Title() any { return s[FieldTitle] }

// Lyrics returns the lyrics field as stored; nil when absent.
func (s Song) Lyrics() any { return s[FieldLyrics] }

// SameContent reports whether other carries the same title and lyrics as s.
// A field absent from both documents counts as equal.
func (s Song) SameContent(other Song) bool {
	return sameField(s, other, FieldTitle) && sameField(s, other, FieldLyrics)
}

// Fields returns a copy of s without the store identifier, suitable for a
// field-merge update.
func (s Song) Fields() Song {
	out := make(Song, len(s))
	for k, v := range s {
		if k == FieldStoreID {
			continue
		}
		out[k] = v
	}
	return out
}

func sameField(a, b Song, key string) bool {
	av, aok := a[key]
	bv, bok := b[key]
	if aok != bok {
		return false
	}
	if ai, ok := toInt64(av); ok {
		bi, ok := toInt64(bv)
		return ok && ai == bi
	}
	return reflect.DeepEqual(av, bv)
}

// DecodeSong parses a JSON object into a Song.  Numbers are normalised so
// integral values are stored as int64 and the rest as float64.
func DecodeSong(data []byte) (Song, error) {
	var raw map[string]any
	if err := unmarshalNumbers(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return Song(Normalize(raw).(map[string]any)), nil
}

// DecodeSongs parses a JSON array of objects, as found in the seed dataset.
func DecodeSongs(data []byte) ([]Song, error) {
	var raw []map[string]any
	if err := unmarshalNumbers(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Song, 0, len(raw))
	for _, m := range raw {
		out = append(out, Song(Normalize(m).(map[string]any)))
	}
	return out, nil
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Normalize walks a decoded JSON value and replaces json.Number leaves with
// int64 or float64.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = Normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = Normalize(e)
		}
		return t
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
	case json.Number:
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
