// Package tag holds the canonical tag identity resolved through the tag
// directory.
package tag

// Tag is a canonical tag: a generated id plus its unique name.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
