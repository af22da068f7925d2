package orders

import (
	"fmt"
	"strings"
)

// ParseAddress splits a one-line address of the form
// "street, city, state, postalCode[, phone]". The optional trailing phone is
// returned separately; country is filled from defaultCountry.
func ParseAddress(raw, defaultCountry string) (Address, string, error) {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 4 {
		return Address{}, "", fmt.Errorf("%w: want \"street, city, state, postal code[, phone]\"", ErrInvalidAddress)
	}
	a := Address{
		Street:     parts[0],
		City:       parts[1],
		State:      parts[2],
		PostalCode: parts[3],
		Country:    defaultCountry,
	}
	var phone string
	if len(parts) > 4 {
		phone = parts[4]
	}
	if err := a.Validate(); err != nil {
		return Address{}, "", err
	}
	return a, phone, nil
}

func (a Address) Validate() error {
	var missing []string
	if a.Street == "" {
		missing = append(missing, "street")
	}
	if a.City == "" {
		missing = append(missing, "city")
	}
	if a.State == "" {
		missing = append(missing, "state")
	}
	if a.Country == "" {
		missing = append(missing, "country")
	}
	if a.PostalCode == "" {
		missing = append(missing, "postalCode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	return nil
}
