// Package reconcile merges the two places a persistence response may report
// record writes (an outcome block and a mutation log) into one deduplicated
// RecordsSyncResult.
package reconcile

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/jsonvalue"
	"receipt-agent/internal/resolve"
)

// snippetLimit bounds the raw body logged for a degenerate result.
const snippetLimit = 512

const defaultLogAction = "upsert"

var (
	// outcomeKeys name the outcome block, looked up in each of outcomeContainers.
	outcomeKeys       = []string{"records", "records_sync", "recordsSync", "sync"}
	outcomeContainers = []string{"", "mnx", "data", "meta"}

	// logKeys name the mutation log inside each logContainers entry; the
	// top level uses rootLogKeys instead.
	logContainers = []string{"mnx", "meta", "debug"}
	logKeys       = []string{"records", "mutations", "record_writes", "writes"}
	rootLogKeys   = []string{"mutations", "record_mutations", "record_writes"}

	mutationID     = resolve.IDAt("id", "record_id", "recordId", "_id")
	mutationTable  = resolve.StringAt("table", "table_name", "tableName", "type_name", "typeName")
	mutationAction = resolve.StringAt("action", "op", "operation")
)

type bucket int

const (
	bucketCreated bucket = iota
	bucketUpdated
	// bucketByAction defers to the entry's own action.
	bucketByAction
)

var bucketKeys = []struct {
	key string
	b   bucket
}{
	{"created", bucketCreated},
	{"inserted", bucketCreated},
	{"updated", bucketUpdated},
	{"upserted", bucketByAction},
	{"writes", bucketByAction},
}

// Reconciler turns persistence responses into sync results. The zero value
// logs to slog.Default.
type Reconciler struct {
	Logger *slog.Logger
}

// New returns a Reconciler logging to logger.
func New(logger *slog.Logger) *Reconciler {
	return &Reconciler{Logger: logger}
}

func (r *Reconciler) logger() *slog.Logger {
	if r == nil || r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Reconcile never fails. A body that describes no writes, including one that
// is not JSON at all, yields a result tagged with
// domain.ActionMetadataMissing.
func (r *Reconciler) Reconcile(body []byte) domain.RecordsSyncResult {
	var (
		created, updated []domain.RecordMutation
		explicit         []string
	)

	if doc, err := jsonvalue.Parse(body); err == nil {
		if root, ok := jsonvalue.AsObject(doc); ok {
			if block, ok := outcomeBlock(root); ok {
				c, u := fromOutcomeBlock(block)
				created = append(created, c...)
				updated = append(updated, u...)
				explicit = append(explicit, stringsAt(block, "actions")...)
			}
			for _, m := range mutationLog(root) {
				if isUpdate(m.Action) {
					updated = append(updated, m)
				} else {
					created = append(created, m)
				}
			}
			if len(explicit) == 0 {
				explicit = stringsAt(root, "actions")
			}
		}
	}

	res := domain.RecordsSyncResult{
		Created: dedupe(created),
		Updated: dedupe(updated),
	}
	if len(explicit) > 0 {
		res.Actions = dedupeStrings(explicit)
	} else {
		res.Actions = impliedActions(res)
	}

	if len(res.Created) == 0 && len(res.Updated) == 0 {
		res.Actions = dedupeStrings(append(res.Actions, domain.ActionMetadataMissing))
		r.logger().Warn("reconcile: response carried no records sync metadata",
			"bytes", len(body),
			"snippet", snippet(body),
		)
	}
	return res
}

// outcomeBlock returns the first candidate object that carries a bucket key.
func outcomeBlock(root jsonvalue.Object) (jsonvalue.Object, bool) {
	for _, c := range outcomeContainers {
		container := root
		if c != "" {
			nested, ok := root.Object(c)
			if !ok {
				continue
			}
			container = nested
		}
		for _, k := range outcomeKeys {
			block, ok := container.Object(k)
			if ok && hasBucket(block) {
				return block, true
			}
		}
	}
	return nil, false
}

func hasBucket(o jsonvalue.Object) bool {
	for _, bk := range bucketKeys {
		if _, ok := o.Get(bk.key); ok {
			return true
		}
	}
	return false
}

func fromOutcomeBlock(block jsonvalue.Object) (created, updated []domain.RecordMutation) {
	for _, bk := range bucketKeys {
		v, ok := block.Get(bk.key)
		if !ok {
			continue
		}
		actionHint := ""
		if bk.b == bucketByAction {
			actionHint = defaultLogAction
		}
		for _, m := range entries(v, "", actionHint) {
			switch {
			case bk.b == bucketCreated:
				created = append(created, m)
			case bk.b == bucketUpdated:
				updated = append(updated, m)
			case isUpdate(m.Action):
				updated = append(updated, m)
			default:
				created = append(created, m)
			}
		}
	}
	return created, updated
}

// entries accepts a bare id, an entry object, a list of either, or a map
// from table name to any of those.
func entries(v jsonvalue.Value, table, action string) []domain.RecordMutation {
	switch val := v.(type) {
	case jsonvalue.String:
		id := strings.TrimSpace(string(val))
		if id == "" {
			return nil
		}
		return []domain.RecordMutation{{ID: id, Table: table, Action: action}}
	case jsonvalue.Number:
		return entries(jsonvalue.Object{"id": val}, table, action)
	case jsonvalue.Array:
		var out []domain.RecordMutation
		for _, elem := range val {
			out = append(out, entries(elem, table, action)...)
		}
		return out
	case jsonvalue.Object:
		if m, ok := entry(val, table, action); ok {
			return []domain.RecordMutation{m}
		}
		var out []domain.RecordMutation
		for _, k := range val.SortedKeys() {
			inner, _ := val.Get(k)
			switch inner.(type) {
			case jsonvalue.Array, jsonvalue.String:
				out = append(out, entries(inner, k, action)...)
			}
		}
		return out
	}
	return nil
}

// entry reads one mutation object. Objects naming neither an id nor a table
// are not entries.
func entry(o jsonvalue.Object, table, action string) (domain.RecordMutation, bool) {
	id, hasID := mutationID(o)
	t, hasTable := mutationTable(o)
	if !hasID && !hasTable {
		return domain.RecordMutation{}, false
	}
	m := domain.RecordMutation{ID: id, Table: table, Action: action}
	if hasTable {
		m.Table = t
	}
	if a, ok := mutationAction(o); ok {
		m.Action = a
	}
	return m, true
}

func mutationLog(root jsonvalue.Object) []domain.RecordMutation {
	for _, c := range logContainers {
		container, ok := root.Object(c)
		if !ok {
			continue
		}
		if arr, ok := firstArray(container, logKeys); ok {
			return logEntries(arr)
		}
	}
	if arr, ok := firstArray(root, rootLogKeys); ok {
		return logEntries(arr)
	}
	return nil
}

func firstArray(o jsonvalue.Object, keys []string) (jsonvalue.Array, bool) {
	for _, k := range keys {
		if arr, ok := o.Array(k); ok {
			return arr, true
		}
	}
	return nil, false
}

func logEntries(arr jsonvalue.Array) []domain.RecordMutation {
	var out []domain.RecordMutation
	for _, o := range jsonvalue.Objects(arr) {
		if m, ok := entry(o, "", defaultLogAction); ok {
			out = append(out, m)
		}
	}
	return out
}

func isUpdate(action string) bool {
	a := strings.ToLower(action)
	return strings.Contains(a, "update") || strings.Contains(a, "modify") || strings.Contains(a, "patch")
}

func stringsAt(o jsonvalue.Object, key string) []string {
	arr, ok := o.Array(key)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range arr {
		if s, ok := jsonvalue.AsString(v); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func impliedActions(res domain.RecordsSyncResult) []string {
	var out []string
	for _, m := range res.Created {
		out = append(out, orDefault(m.Action, "create"))
	}
	for _, m := range res.Updated {
		out = append(out, orDefault(m.Action, "update"))
	}
	return dedupeStrings(out)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func dedupe(in []domain.RecordMutation) []domain.RecordMutation {
	seen := make(map[domain.RecordMutation]struct{}, len(in))
	out := make([]domain.RecordMutation, 0, len(in))
	for _, m := range in {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func snippet(body []byte) string {
	if len(body) <= snippetLimit {
		return string(body)
	}
	cut := body[:snippetLimit]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return string(cut) + "…"
}
