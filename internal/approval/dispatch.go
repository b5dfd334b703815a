package approval

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/otaledger/internal/domain"
)

// Handler carries out the decision on one kind of approvable object.
// Apply activates the proposed change; Revert undoes whatever tentative
// mutation was written before submission.
type Handler interface {
	Apply(ctx context.Context, req domain.ApprovalRequest) error
	Revert(ctx context.Context, req domain.ApprovalRequest) error
}

// Handlers has one field per object kind. A new kind needs a new field here
// and a case in For; TestHandlersCoverEveryObjectType enforces the pairing.
type Handlers struct {
	Product   Handler
	Sku       Handler
	Price     Handler
	Inventory Handler
	Supplier  Handler
}

// For returns the handler owning objects of type t.
func (h Handlers) For(t domain.ObjectType) (Handler, error) {
	var handler Handler
	switch t {
	case domain.ObjectProduct:
		handler = h.Product
	case domain.ObjectSku:
		handler = h.Sku
	case domain.ObjectPrice:
		handler = h.Price
	case domain.ObjectInventory:
		handler = h.Inventory
	case domain.ObjectSupplier:
		handler = h.Supplier
	default:
		return nil, fmt.Errorf("object type %q: %w", t, domain.ErrUnknownObjectType)
	}
	if handler == nil {
		return nil, fmt.Errorf("no handler registered for %q: %w", t, domain.ErrUnknownObjectType)
	}
	return handler, nil
}

// Validate reports the first object kind without a handler.
func (h Handlers) Validate() error {
	for _, t := range domain.ObjectTypes {
		if _, err := h.For(t); err != nil {
			return err
		}
	}
	return nil
}
