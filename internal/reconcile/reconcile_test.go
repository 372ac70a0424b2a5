package reconcile

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-agent/internal/domain"
)

var goldenCases = []struct {
	name string
	body string
}{
	{
		name: "outcome_block_and_mutation_log",
		body: `{"records":{"created":[{"record_id":"a","table":"receipts"}]},"mnx":{"records":[{"record_id":"b","type_name":"receipt_items","action":"update"}]}}`,
	},
	{
		name: "table_keyed_buckets",
		body: `{"data":{"records_sync":{"created":{"receipts":["r1"],"receipt_items":["i1","i2"]},"updated":[],"actions":["records_written","records_written"]}}}`,
	},
	{
		name: "upserted_with_duplicate_log",
		body: `{"sync":{"upserted":[{"id":"r1","table":"receipts"},{"id":"i1","table":"receipt_items","op":"patch"}]},"mutations":[{"id":"r1","table":"receipts","action":"upsert"},{"id":"r2","table":"receipts"}]}`,
	},
	{
		name: "metadata_missing",
		body: `{"choices":[{"message":{"content":"ok"}}]}`,
	},
}

func TestReconcile_Golden(t *testing.T) {
	r := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tc := range goldenCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := json.Marshal(r.Reconcile([]byte(tc.body)))
			require.NoError(t, err)
			g.Assert(t, tc.name, out)
		})
	}
}

func TestReconcile_Scenario(t *testing.T) {
	res := New(nil).Reconcile([]byte(goldenCases[0].body))

	require.Equal(t, []domain.RecordMutation{{ID: "a", Table: "receipts"}}, res.Created)
	require.Equal(t, []domain.RecordMutation{{ID: "b", Table: "receipt_items", Action: "update"}}, res.Updated)
	assert.False(t, res.MetadataMissing())

	id, ok := res.PrimaryRecordID(domain.TableReceipts)
	require.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestReconcile_Idempotent(t *testing.T) {
	r := New(nil)
	for _, tc := range goldenCases {
		first, err := json.Marshal(r.Reconcile([]byte(tc.body)))
		require.NoError(t, err)
		second, err := json.Marshal(r.Reconcile([]byte(tc.body)))
		require.NoError(t, err)
		require.Equal(t, first, second, tc.name)
	}
}

func TestReconcile_DedupesWithinBuckets(t *testing.T) {
	body := `{"records":{"created":["x","x",{"id":"x"}],"updated":[{"id":"y","table":"receipts","action":"update"}]},
		"mnx":{"mutations":[{"id":"y","table":"receipts","action":"update"},{"id":"y","table":"receipts","action":"modify"}]}}`
	res := New(nil).Reconcile([]byte(body))

	assert.Equal(t, []domain.RecordMutation{{ID: "x"}}, res.Created)
	assert.Equal(t, []domain.RecordMutation{
		{ID: "y", Table: "receipts", Action: "update"},
		{ID: "y", Table: "receipts", Action: "modify"},
	}, res.Updated)
	assert.Equal(t, []string{"create", "update", "modify"}, res.Actions)
}

func TestReconcile_LogOnly(t *testing.T) {
	body := `{"meta":{"record_writes":[{"recordId":7,"tableName":"receipts","operation":"insert"},{"_id":"i9","typeName":"receipt_items"},{"note":"skipped"}]}}`
	res := New(nil).Reconcile([]byte(body))

	assert.Equal(t, []domain.RecordMutation{
		{ID: "7", Table: "receipts", Action: "insert"},
		{ID: "i9", Table: "receipt_items", Action: "upsert"},
	}, res.Created)
	assert.Empty(t, res.Updated)
	assert.Equal(t, []string{"insert", "upsert"}, res.Actions)
}

func TestReconcile_WideNumericIDs(t *testing.T) {
	body := `{"records":{"created":[{"id":9007199254740993,"table":"receipts"},12345678901234567891]},
		"mnx":{"mutations":[{"record_id":12345678901234567892,"table":"receipt_items","action":"update"}]}}`
	res := New(nil).Reconcile([]byte(body))

	assert.Equal(t, []domain.RecordMutation{
		{ID: "9007199254740993", Table: "receipts"},
		{ID: "12345678901234567891"},
	}, res.Created)
	assert.Equal(t, []domain.RecordMutation{{ID: "12345678901234567892", Table: "receipt_items", Action: "update"}}, res.Updated)

	id, ok := res.PrimaryRecordID(domain.TableReceipts)
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", id)
}

func TestReconcile_NotJSONIsDegenerate(t *testing.T) {
	var logs bytes.Buffer
	r := New(slog.New(slog.NewTextHandler(&logs, nil)))

	body := strings.Repeat("x", 2000)
	res := r.Reconcile([]byte(body))

	assert.True(t, res.MetadataMissing())
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Updated)
	assert.Contains(t, logs.String(), "no records sync metadata")
	assert.NotContains(t, logs.String(), strings.Repeat("x", snippetLimit+1))

	_, ok := res.PrimaryRecordID(domain.TableReceipts)
	assert.False(t, ok)
}

func TestReconcile_ExplicitActionsKeptAlongsideSentinel(t *testing.T) {
	res := New(nil).Reconcile([]byte(`{"actions":["noop"]}`))
	assert.Equal(t, []string{"noop", domain.ActionMetadataMissing}, res.Actions)
}

func TestSnippet_KeepsValidUTF8(t *testing.T) {
	body := []byte(strings.Repeat("a", snippetLimit-1) + "é")
	s := snippet(body)
	assert.True(t, strings.HasSuffix(s, "…"))
	assert.Equal(t, strings.Repeat("a", snippetLimit-1)+"…", s)
}
