package domain

import (
	"strings"
	"time"
)

const (
	UnknownSupplier = "Unknown Supplier"
	UnknownCustomer = "Unknown Customer"
)

// Party holds the fields shared by suppliers and customers.
type Party struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	Contact   string    `json:"contact"`
	Email     string    `json:"email" validate:"omitempty,email"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Supplier struct {
	Party
}

type Customer struct {
	Party
}

type PartyInput struct {
	Name    string
	Contact string
	Email   string
	Address string
}

func newParty(in PartyInput, now time.Time) (Party, error) {
	p := Party{ID: NewID(), CreatedAt: now}
	if err := p.apply(in, now); err != nil {
		return Party{}, err
	}
	return p, nil
}

func (p *Party) apply(in PartyInput, now time.Time) error {
	p.Name = strings.TrimSpace(in.Name)
	p.Contact = strings.TrimSpace(in.Contact)
	p.Email = strings.TrimSpace(in.Email)
	p.Address = strings.TrimSpace(in.Address)
	p.UpdatedAt = now
	return validateStruct(p)
}

func NewSupplier(in PartyInput, now time.Time) (Supplier, error) {
	p, err := newParty(in, now)
	if err != nil {
		return Supplier{}, err
	}
	return Supplier{Party: p}, nil
}

func NewCustomer(in PartyInput, now time.Time) (Customer, error) {
	p, err := newParty(in, now)
	if err != nil {
		return Customer{}, err
	}
	return Customer{Party: p}, nil
}

func (s Supplier) WithDetails(in PartyInput, now time.Time) (Supplier, error) {
	if err := s.apply(in, now); err != nil {
		return Supplier{}, err
	}
	return s, nil
}

func (c Customer) WithDetails(in PartyInput, now time.Time) (Customer, error) {
	if err := c.apply(in, now); err != nil {
		return Customer{}, err
	}
	return c, nil
}
