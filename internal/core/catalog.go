package core

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/aliharslan0/pyrevanced/internal/sources"
	"github.com/aliharslan0/pyrevanced/pkg/api"
)

const (
	sectionMarker = "### 📦 "
	// Every section starts with a table header and its separator row.
	skipRows = 2
)

// Catalog maps an app id to its patches in source order.
type Catalog map[string][]api.PatchDescriptor

// ParseCatalog interprets the patches README: one section per app, each a
// table of name | description | version rows.
func ParseCatalog(text string) (Catalog, error) {
	sections := strings.Split(text, sectionMarker)
	if len(sections) < 2 {
		return nil, fmt.Errorf("%w: no %q section heading", ErrCatalogFormat, strings.TrimSpace(sectionMarker))
	}

	cat := Catalog{}
	for _, section := range sections[1:] {
		lines := strings.Split(section, "\n")
		app := strings.Trim(strings.TrimSpace(lines[0]), "`")
		if app == "" {
			return nil, fmt.Errorf("%w: section without app name", ErrCatalogFormat)
		}

		var rows []api.PatchDescriptor
		for _, line := range lines {
			fields := strings.Split(strings.TrimRight(line, "\r"), "|")
			if len(fields) != 5 {
				continue
			}
			rows = append(rows, api.PatchDescriptor{
				Name:        cleanCell(fields[1]),
				Description: cleanCell(fields[2]),
				App:         app,
				Version:     cleanCell(fields[3]),
			})
		}
		if len(rows) <= skipRows {
			rows = nil
		} else {
			rows = rows[skipRows:]
		}

		seen := make(map[string]struct{}, len(cat[app])+len(rows))
		for _, d := range cat[app] {
			seen[d.Name] = struct{}{}
		}
		if _, ok := cat[app]; !ok {
			cat[app] = []api.PatchDescriptor{}
		}
		for _, d := range rows {
			if _, dup := seen[d.Name]; dup {
				continue
			}
			seen[d.Name] = struct{}{}
			cat[app] = append(cat[app], d)
		}
	}
	return cat, nil
}

func cleanCell(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "`", ""))
}

// ResolveVersion returns the first concrete version among descs.
func ResolveVersion(descs []api.PatchDescriptor) (string, error) {
	for _, d := range descs {
		if d.Version != api.AnyVersion && d.Version != "" {
			return d.Version, nil
		}
	}
	return "", fmt.Errorf("%w: no patch names a concrete version", ErrCatalogFormat)
}

// CatalogClient downloads and interprets the remote patch catalog. Parsed
// catalogs are cached per URL for the lifetime of the client.
type CatalogClient struct {
	Client *sources.Client
	URL    string
	cache  *lru.Cache[string, Catalog]
}

func NewCatalogClient(c *sources.Client, url string) *CatalogClient {
	cache, _ := lru.New[string, Catalog](8)
	return &CatalogClient{Client: c, URL: url, cache: cache}
}

// Catalog returns the parsed catalog for every app.
func (c *CatalogClient) Catalog(ctx context.Context) (Catalog, error) {
	if cat, ok := c.cache.Get(c.URL); ok {
		return cat, nil
	}
	text, err := c.Client.GetText(ctx, c.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	cat, err := ParseCatalog(text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(c.URL, cat)
	return cat, nil
}

// Resolve returns the patches for app and the app version they target.
func (c *CatalogClient) Resolve(ctx context.Context, app api.App) ([]api.PatchDescriptor, string, error) {
	cat, err := c.Catalog(ctx)
	if err != nil {
		return nil, "", err
	}
	descs := cat[app.CatalogID()]
	if len(descs) == 0 {
		return nil, "", fmt.Errorf("%w: no patches listed for %s", ErrCatalogFormat, app.CatalogID())
	}
	version, err := ResolveVersion(descs)
	if err != nil {
		return nil, "", err
	}
	log.Debug().Str("app", app.String()).Int("patches", len(descs)).Str("version", version).Msg("catalog resolved")
	return descs, version, nil
}
