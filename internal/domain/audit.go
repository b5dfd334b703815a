package domain

import (
	"encoding/json"
	"time"
)

// Audit operations.
const (
	OpInsert         = "INSERT"
	OpUpdate         = "UPDATE"
	OpImport         = "IMPORT"
	OpApprovalSubmit = "APPROVAL_SUBMIT"
	OpApprovalPass   = "APPROVAL_PASS"
	OpApprovalReject = "APPROVAL_REJECT"
)

// AuditEntry records one ledger mutation. Entries are never changed or removed.
type AuditEntry struct {
	ID         string          `json:"id"`
	TableName  string          `json:"table_name"`
	RecordID   string          `json:"record_id"`
	Operation  string          `json:"operation"`
	DiffData   json.RawMessage `json:"diff_data"`
	Operator   string          `json:"operator,omitempty"`
	OperatedAt time.Time       `json:"operated_at"`
	Source     string          `json:"source,omitempty"`
}
