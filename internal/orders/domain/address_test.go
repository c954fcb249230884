package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShippingAddress(t *testing.T) {
	full := ShippingAddress{
		FullName:   "Ada Lovelace",
		Address:    "1 Loom St",
		City:       "  London ",
		State:      "LDN",
		PostalCode: "N1 9GU",
		Country:    "UK",
	}
	assert.True(t, full.Complete())
	assert.Equal(t, "Ada Lovelace, 1 Loom St, London, LDN N1 9GU, UK", full.Format())
	assert.Equal(t, "London", full.Trimmed().City)

	assert.Equal(t, []string{"full_name", "address", "city", "state", "postal_code", "country"}, ShippingAddress{}.Missing())

	blankCity := full
	blankCity.City = " \t"
	assert.Equal(t, []string{"city"}, blankCity.Missing())
}
