package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedBucket reports a bucket blob that is not a JSON object.
var ErrMalformedBucket = errors.New("cache bucket malformed")

// collisionSep separates the millisecond timestamp from the disambiguating
// suffix used when two entries land on the same millisecond.
const collisionSep = "#"

// Entry is one decoded bucket slot.
type Entry struct {
	// Key is the stored slot key: "<ms>" or "<ms>#<suffix>".
	Key string
	// Created is the insertion time in Unix milliseconds.
	Created int64
	Value   string
}

// Age returns how long ago the entry was inserted, relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.Created))
}

// Bucket is the decoded form of one slot.
type Bucket struct {
	Entries []Entry
	// Invalid counts slots that were skipped while decoding because the key
	// is not a timestamp or the value is not a string.
	Invalid int
}

// Decode parses a bucket blob. An empty or "null" blob decodes to an empty
// bucket. Invalid slots are skipped and counted; only a blob that is not a JSON
// object returns [ErrMalformedBucket]. Entries are ordered by creation time.
func Decode(blob string) (Bucket, error) {
	if strings.TrimSpace(blob) == "" {
		return Bucket{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return Bucket{}, fmt.Errorf("%w: %v", ErrMalformedBucket, err)
	}

	b := Bucket{Entries: make([]Entry, 0, len(raw))}
	for key, rawValue := range raw {
		created, ok := parseSlotKey(key)
		if !ok {
			b.Invalid++
			continue
		}
		var value string
		if err := json.Unmarshal(rawValue, &value); err != nil {
			b.Invalid++
			continue
		}
		b.Entries = append(b.Entries, Entry{Key: key, Created: created, Value: value})
	}

	sort.Slice(b.Entries, func(i, j int) bool {
		if b.Entries[i].Created != b.Entries[j].Created {
			return b.Entries[i].Created < b.Entries[j].Created
		}
		return b.Entries[i].Key < b.Entries[j].Key
	})
	return b, nil
}

// Encode serialises entries to a bucket blob. Output is deterministic: keys are
// written in sorted order. Entries with duplicate keys keep the last value.
func Encode(entries []Entry) (string, error) {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		key := e.Key
		if key == "" {
			key = strconv.FormatInt(e.Created, 10)
		}
		m[key] = e.Value
	}
	out, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// parseSlotKey extracts the timestamp of a slot key. The part after the
// collision separator is opaque but must be non-empty.
func parseSlotKey(key string) (int64, bool) {
	ts, suffix, hasSuffix := strings.Cut(key, collisionSep)
	if ts == "" || (hasSuffix && suffix == "") {
		return 0, false
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// insert appends value stamped with now. A same-millisecond collision gets a
// random suffix instead of overwriting the existing entry.
func insert(entries []Entry, now time.Time, value string) []Entry {
	ms := now.UnixMilli()
	key := strconv.FormatInt(ms, 10)
	for _, e := range entries {
		if e.Key == key {
			key = key + collisionSep + uuid.NewString()
			break
		}
	}
	return append(entries, Entry{Key: key, Created: ms, Value: value})
}
