package models

import (
	"database/sql/driver"
	"time"
)

// Address is the model for the 'addresses' table.
type Address struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"userId" db:"user_id"`
	FullName     string    `json:"fullName" db:"full_name"`
	Phone        string    `json:"phone" db:"phone"`
	AddressLine1 string    `json:"addressLine1" db:"address_line1"`
	AddressLine2 *string   `json:"addressLine2,omitempty" db:"address_line2"`
	City         string    `json:"city" db:"city"`
	State        string    `json:"state" db:"state"`
	Pincode      string    `json:"pincode" db:"pincode"`
	Country      string    `json:"country" db:"country"`
	IsDefault    bool      `json:"isDefault" db:"is_default"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Snapshot copies the deliverable part of the address onto an order.
func (a *Address) Snapshot() ShippingAddress {
	s := ShippingAddress{
		FullName:     a.FullName,
		Phone:        a.Phone,
		AddressLine1: a.AddressLine1,
		City:         a.City,
		State:        a.State,
		Pincode:      a.Pincode,
		Country:      a.Country,
	}
	if a.AddressLine2 != nil {
		s.AddressLine2 = *a.AddressLine2
	}
	return s
}

// ShippingAddress is the address frozen onto an order (JSON column).
type ShippingAddress struct {
	FullName     string `json:"fullName"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Country      string `json:"country"`
}

func (s ShippingAddress) Value() (driver.Value, error) {
	return jsonValue(s)
}

func (s *ShippingAddress) Scan(src interface{}) error {
	*s = ShippingAddress{}
	return scanJSON(src, s)
}
