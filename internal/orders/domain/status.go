package domain

import (
	"fmt"

	"github.com/fjod/craft_market/internal/apperrors"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
)

// Actor is whoever is reading or changing an order.
type Actor struct {
	ID   string
	Role Role
}

func Customer(id string) Actor { return Actor{ID: id, Role: RoleCustomer} }
func Seller(id string) Actor   { return Actor{ID: id, Role: RoleSeller} }

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusDelivered, OrderStatusCancelled},
}

// Transition returns nil if from -> to is an allowed edge.
func Transition(from, to OrderStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, from, to)
}

// AllowedNext lists the statuses reachable from s in one step.
func AllowedNext(s OrderStatus) []OrderStatus {
	return append([]OrderStatus(nil), transitions[s]...)
}

// AuthorizeStatusChange allows only a seller with a line on the order.
func AuthorizeStatusChange(actor Actor, o *Order) error {
	if actor.Role != RoleSeller {
		return fmt.Errorf("%w: only sellers change order status", apperrors.ErrForbidden)
	}
	if !o.HasSeller(actor.ID) {
		return fmt.Errorf("%w: seller %s has no items on order %s", apperrors.ErrForbidden, actor.ID, o.ID)
	}
	return nil
}

// AuthorizeRead allows the buying customer and any seller with a line on the order.
func AuthorizeRead(actor Actor, o *Order) error {
	switch actor.Role {
	case RoleCustomer:
		if o.CustomerID == actor.ID {
			return nil
		}
	case RoleSeller:
		if o.HasSeller(actor.ID) {
			return nil
		}
	}
	// reported as not found so order ids cannot be probed
	return fmt.Errorf("%w: order %s", apperrors.ErrNotFound, o.ID)
}

// ChangeStatus authorizes and applies a transition on o.
func ChangeStatus(actor Actor, o *Order, to OrderStatus) error {
	if err := AuthorizeStatusChange(actor, o); err != nil {
		return err
	}
	if err := Transition(o.Status, to); err != nil {
		return err
	}
	o.Status = to
	return nil
}
