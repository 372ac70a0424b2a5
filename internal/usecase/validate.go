package usecase

import (
	"encoding/json"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/integrations/mnx"
)

// persistSchema constrains the context block of a persistence request.
const persistSchema = `
subject_id: string & =~"\\S"
chat_id:    string & =~"^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$"
records: {
	sync:   true
	tables: [string, ...string]
}
`

// Validation reasons, keyed by the top-level field that failed.
var persistReasons = map[string]string{
	"subject_id": "subject_id_missing",
	"chat_id":    "chat_id_invalid",
	"records":    "records_sync_required",
}

// ValidatePersistRequest rejects a persistence request that would not make the
// service write records synchronously into both capture tables. It performs
// no I/O.
func ValidatePersistRequest(req mnx.ChatRequest) error {
	if req.Context == nil {
		return domain.InvalidInput("context_missing", nil)
	}
	raw, err := json.Marshal(req.Context)
	if err != nil {
		return domain.InvalidInput("context_not_encodable", err)
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(persistSchema)
	if err := schema.Err(); err != nil {
		return domain.InvalidInput("persist_schema_invalid", err)
	}
	doc := cctx.CompileBytes(raw)
	if err := doc.Err(); err != nil {
		return domain.InvalidInput("context_not_encodable", err)
	}
	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return domain.InvalidInput(persistReason(err), err)
	}

	if req.Context.Records == nil {
		return domain.InvalidInput("records_sync_required", nil)
	}
	for _, table := range []string{domain.TableReceipts, domain.TableReceiptItems} {
		if !slices.Contains(req.Context.Records.Tables, table) {
			return domain.InvalidInput("records_tables_incomplete", nil)
		}
	}
	return nil
}

func persistReason(err error) string {
	for _, e := range cueerrors.Errors(err) {
		path := e.Path()
		if len(path) == 0 {
			continue
		}
		if reason, ok := persistReasons[strings.Trim(path[0], `"`)]; ok {
			return reason
		}
	}
	return "persist_request_invalid"
}
