package tools

// Ident is the strong type for tool identifiers (e.g., "web_search").
// Use this type when referencing tools in maps or APIs to avoid accidental
// mixing with free-form strings.
type Ident string

// String returns the identifier as a plain string.
func (i Ident) String() string { return string(i) }
