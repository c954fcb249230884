package domain

import (
	"fmt"
	"strings"
)

// ShippingAddress is collected at checkout and stored on the order as one
// formatted line.
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Missing lists the fields that are empty after trimming.
func (a ShippingAddress) Missing() []string {
	var missing []string
	fields := []struct {
		name  string
		value string
	}{
		{"full_name", a.FullName},
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func (a ShippingAddress) Complete() bool {
	return len(a.Missing()) == 0
}

func (a ShippingAddress) Trimmed() ShippingAddress {
	return ShippingAddress{
		FullName:   strings.TrimSpace(a.FullName),
		Address:    strings.TrimSpace(a.Address),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
}

// Format renders "name, address, city, state postal, country".
func (a ShippingAddress) Format() string {
	t := a.Trimmed()
	return fmt.Sprintf("%s, %s, %s, %s %s, %s", t.FullName, t.Address, t.City, t.State, t.PostalCode, t.Country)
}
