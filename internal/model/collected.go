package model

// BillingAddress carries card billing details. Tags drive struct validation.
type BillingAddress struct {
	FirstName    string `json:"firstName" validate:"required"`
	LastName     string `json:"lastName" validate:"required"`
	AddressLine1 string `json:"addressLine1" validate:"required"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city" validate:"required"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postalCode" validate:"required"`
	CountryCode  string `json:"countryCode" validate:"required,iso3166_1_alpha2"`
}

// ACHUserDetails carries the user details stage of an ACH flow.
type ACHUserDetails struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"emailAddress" validate:"required,email"`
}

// CollectedData accumulates user input for exactly one checkout attempt.
// It is owned by a single flow instance; the flow's lock guards all access.
type CollectedData struct {
	fields  map[FieldKind]string
	billing *BillingAddress
}

// NewCollectedData returns an empty collected-data set.
func NewCollectedData() *CollectedData {
	return &CollectedData{fields: make(map[FieldKind]string)}
}

// Set records the latest value for a field, replacing any prior value.
func (c *CollectedData) Set(field FieldKind, value string) {
	c.fields[field] = value
}

// Get returns the latest value for a field, or "" if never set.
func (c *CollectedData) Get(field FieldKind) string {
	return c.fields[field]
}

// Has reports whether the field has ever been set.
func (c *CollectedData) Has(field FieldKind) bool {
	_, ok := c.fields[field]
	return ok
}

// SetBillingAddress replaces the billing address.
func (c *CollectedData) SetBillingAddress(b BillingAddress) {
	c.billing = &b
}

// BillingAddress returns the billing address, or nil if not collected.
func (c *CollectedData) BillingAddress() *BillingAddress {
	return c.billing
}
