package firmware

import (
	"context"
)

// CatalogEntry is one published firmware artifact. A nil Filename means the
// catalog omitted the field; an empty one means it was present but unusable.
// Channel and Version decode missing and null as "", so entries with an empty
// channel or version are discarded at refresh along with those lacking a
// filename.
type CatalogEntry struct {
	Channel  string  `json:"type"`
	Version  string  `json:"version"`
	Filename *string `json:"filename"`
}

// CatalogSource lists every firmware artifact published for the project.
type CatalogSource interface {
	FetchFirmwareCatalog(ctx context.Context) ([]CatalogEntry, error)
}

// CatalogSourceFunc adapts a function to CatalogSource.
type CatalogSourceFunc func(ctx context.Context) ([]CatalogEntry, error)

func (f CatalogSourceFunc) FetchFirmwareCatalog(ctx context.Context) ([]CatalogEntry, error) {
	return f(ctx)
}

func (e CatalogEntry) usable() bool {
	return e.Channel != "" && e.Version != "" && e.Filename != nil
}
