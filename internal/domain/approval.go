package domain

import (
	"encoding/json"
	"time"
)

// ObjectType tags the ledger that owns an approval's target.
type ObjectType string

const (
	ObjectProduct   ObjectType = "product"
	ObjectSku       ObjectType = "sku"
	ObjectPrice     ObjectType = "price"
	ObjectInventory ObjectType = "inventory"
	ObjectSupplier  ObjectType = "supplier"
)

// ObjectTypes is every approvable object kind.
var ObjectTypes = []ObjectType{ObjectProduct, ObjectSku, ObjectPrice, ObjectInventory, ObjectSupplier}

func (t ObjectType) Valid() bool {
	for _, known := range ObjectTypes {
		if t == known {
			return true
		}
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// ApprovalRequest references its target by ObjectType and ObjectID and keeps
// only historical snapshots of the proposed change.
type ApprovalRequest struct {
	ID         string          `json:"id"`
	ObjectType ObjectType      `json:"object_type"`
	ObjectID   string          `json:"object_id"`
	ActionType string          `json:"action_type"`
	BeforeData json.RawMessage `json:"before_data"`
	AfterData  json.RawMessage `json:"after_data"`
	Status     ApprovalStatus  `json:"status"`
	Applicant  string          `json:"applicant"`
	Approver   string          `json:"approver"`
	AppliedAt  time.Time       `json:"applied_at"`
	DecidedAt  *time.Time      `json:"decided_at,omitempty"`
	Comment    string          `json:"comment,omitempty"`
}
