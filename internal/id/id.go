// Package id generates the prefixed, time-sortable identifiers used for every
// ledger record, e.g. "ord_01h2xcejqtf2nbrexx3vqjhp41".
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the record type an id belongs to.
type Prefix string

const (
	Inventory        Prefix = "inv"
	InventoryLog     Prefix = "invlog"
	Price            Prefix = "prc"
	PriceHistory     Prefix = "prchist"
	Order            Prefix = "ord"
	OrderHistory     Prefix = "ordhist"
	Approval         Prefix = "apr"
	Audit            Prefix = "aud"
	Product          Prefix = "prod"
	ProductResource  Prefix = "prodres"
	Snapshot         Prefix = "snap"
	SettlementChange Prefix = "stl"
)

// New returns a fresh id for prefix. It panics on an invalid prefix, which is
// a programming error.
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// PrefixOf returns the prefix of a generated id. Ids loaded from a snapshot
// may use any format; those yield an error.
func PrefixOf(s string) (Prefix, error) {
	tid, err := typeid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("id: parse %q: %w", s, err)
	}
	return Prefix(tid.Prefix()), nil
}
