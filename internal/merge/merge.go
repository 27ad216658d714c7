package merge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"lead-enricher/internal/enrich"
)

// Merger builds one enriched record from an input row and its fetch results.
// It does no I/O and keeps no state across calls.
type Merger struct {
	mapping   Mapping
	freshness time.Duration
}

// New constructs a merger. freshness is the informational staleness
// threshold, distinct from the cache's hard TTL.
func New(mapping Mapping, freshness time.Duration) (*Merger, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if freshness <= 0 {
		freshness = 24 * time.Hour
	}
	return &Merger{mapping: mapping, freshness: freshness}, nil
}

// Columns returns the declared schema columns in output order.
func (m *Merger) Columns() []string {
	return m.mapping.Columns()
}

// ErrorRecord builds the record for a row that never reached the provider
// (for example, no usable identifier). Output always has one record per
// input row, so even these rows are emitted.
func (m *Merger) ErrorRecord(in enrich.InputRow, msg string) enrich.Record {
	values := make(map[string]string, len(m.mapping.Fields))
	for _, col := range m.mapping.Columns() {
		values[col] = ""
	}
	return enrich.Record{
		Input:  in,
		Values: values,
		Extras: map[string]string{},
		Status: enrich.RecordError,
		Error:  msg,
	}
}

// Merge folds zero or more endpoint results into one flat record. Declared
// columns always exist; absent payload fields stay "". Top-level payload
// fields outside the schema are preserved in the extras map.
func (m *Merger) Merge(in enrich.InputRow, results map[enrich.Endpoint]enrich.FetchResult, now time.Time) enrich.Record {
	values := make(map[string]string, len(m.mapping.Fields))
	extras := map[string]string{}

	objects := make(map[enrich.Endpoint]map[string]any, len(results))
	for ep, res := range results {
		if res.OK() {
			objects[ep] = primaryObject(res.Payload)
		}
	}

	for _, f := range m.mapping.Fields {
		values[f.Column] = extractField(f, objects[enrich.Endpoint(f.Endpoint)])
	}

	for ep, obj := range objects {
		rule, ok := m.mapping.extrasRule(ep)
		if !ok {
			continue
		}
		consumed := m.mapping.consumedRoots(ep)
		for k, v := range obj {
			if consumed[k] {
				continue
			}
			extras[rule.Prefix+k] = stringify(v)
		}
	}

	status, errMsg := summarize(results)
	return enrich.Record{
		Input:  in,
		Values: values,
		Extras: extras,
		Status: status,
		Error:  errMsg,
		Stale:  m.anyStale(results, now),
	}
}

func (m *Merger) anyStale(results map[enrich.Endpoint]enrich.FetchResult, now time.Time) bool {
	for _, res := range results {
		if res.Cached && !res.FetchedAt.IsZero() && now.Sub(res.FetchedAt) > m.freshness {
			return true
		}
	}
	return false
}

// summarize derives the record status: ok when every endpoint resolved,
// error when none did, partial otherwise. Failure detail lands in the error
// column so no row is ever silently dropped.
func summarize(results map[enrich.Endpoint]enrich.FetchResult) (string, string) {
	if len(results) == 0 {
		return enrich.RecordError, "no lookups performed"
	}

	resolved := 0
	var problems []string
	for ep, res := range results {
		switch res.Status {
		case enrich.StatusSuccess:
			resolved++
		case enrich.StatusNotFound:
			problems = append(problems, fmt.Sprintf("%s: not found", ep))
		default:
			msg := res.Status.String()
			if res.Err != nil {
				msg = res.Err.Error()
			}
			problems = append(problems, fmt.Sprintf("%s: %s", ep, msg))
		}
	}
	sort.Strings(problems)

	switch {
	case resolved == len(results):
		return enrich.RecordOK, ""
	case resolved > 0:
		return enrich.RecordPartial, strings.Join(problems, "; ")
	default:
		return enrich.RecordError, strings.Join(problems, "; ")
	}
}

func extractField(f Field, obj map[string]any) string {
	if obj == nil {
		return ""
	}
	for _, p := range f.Paths {
		if v := stringify(lookupPath(obj, p)); v != "" {
			return v
		}
	}
	if f.Split != nil {
		for _, p := range f.Split.Paths {
			full := strings.TrimSpace(stringify(lookupPath(obj, p)))
			if full == "" {
				continue
			}
			first, rest, found := strings.Cut(full, " ")
			if f.Split.Part == "first" {
				return first
			}
			if found {
				return strings.TrimSpace(rest)
			}
			return ""
		}
	}
	return ""
}

// primaryObject unwraps a response payload to the object carrying the
// profile fields. Provider responses are a bare object, a list, or a
// results/hits envelope depending on API generation.
func primaryObject(payload json.RawMessage) map[string]any {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil
	}
	return unwrap(v, 0)
}

func unwrap(v any, depth int) map[string]any {
	if depth > 2 {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		for _, key := range []string{"results", "hits"} {
			if list, ok := t[key].([]any); ok {
				return unwrap2(list, depth)
			}
		}
		return t
	case []any:
		return unwrap2(t, depth)
	default:
		return nil
	}
}

func unwrap2(list []any, depth int) map[string]any {
	if len(list) == 0 {
		return nil
	}
	return unwrap(list[0], depth+1)
}

func lookupPath(obj map[string]any, path string) any {
	cur := any(obj)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
