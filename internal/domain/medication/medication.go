// Package medication defines the medication catalog entities.
// Medication metadata is read-only from the dispensing core's perspective;
// it is maintained by an external catalog service.
package medication

// Ingredient is one active-ingredient component of a medication
type Ingredient struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

// Medication represents a dispensable product
type Medication struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Form        string       `json:"form,omitempty"`
	Class       string       `json:"class,omitempty"`
	Ingredients []Ingredient `json:"ingredients"`
}
