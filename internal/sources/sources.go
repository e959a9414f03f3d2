// Package sources resolves download locations for the artifacts a patch run needs.
package sources

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aliharslan0/pyrevanced/internal/document"
	"github.com/aliharslan0/pyrevanced/pkg/api"
)

// Source turns a remote listing into a concrete FetchTask.
type Source interface {
	Name() string
	// Required sources must complete before the engine can run.
	Required() bool
	Resolve(ctx context.Context) (api.FetchTask, error)
}

const (
	releaseAssetSelector = "li.Box-row > div:nth-child(1) > a:nth-child(2)"
	downloadPageSelector = "a.accent_bg"
	downloadLinkSelector = "p.notes:nth-child(3) > span:nth-child(1) > a:nth-child(1)"
)

// GitHubRelease picks an asset from the latest release page of revanced-<Repo>.
type GitHubRelease struct {
	Client *Client
	Base   string
	Owner  string
	Repo   string
	// Offset counts back from the last listed asset; the two source
	// archives GitHub appends make 2 the usual value.
	Offset   int
	Optional bool
}

func (g *GitHubRelease) Name() string   { return g.Repo }
func (g *GitHubRelease) Required() bool { return !g.Optional }

func (g *GitHubRelease) Resolve(ctx context.Context) (api.FetchTask, error) {
	page := fmt.Sprintf("%s/%s/revanced-%s/releases/latest", strings.TrimRight(g.Base, "/"), g.Owner, g.Repo)
	doc, err := fetchDocument(ctx, g.Client, page)
	if err != nil {
		return api.FetchTask{}, err
	}
	links, err := doc.All(releaseAssetSelector)
	if err != nil {
		return api.FetchTask{}, err
	}
	idx := len(links) - 1 - g.Offset
	if idx < 0 {
		return api.FetchTask{}, fmt.Errorf("%s: %d assets listed, need more than %d", page, len(links), g.Offset)
	}
	href, ok := document.Attr(links[idx], "href")
	if !ok {
		return api.FetchTask{}, fmt.Errorf("%s: asset link without href", page)
	}
	u, err := join(g.Base, href)
	if err != nil {
		return api.FetchTask{}, err
	}
	return api.FetchTask{URL: u, Name: g.Repo + path.Ext(href), Required: g.Required()}, nil
}

// APKMirror navigates the two-page download flow for an app version.
type APKMirror struct {
	Client   *Client
	Base     string
	App      api.App
	Version  string
	Optional bool
}

// AppArtifactName is the file name the engine expects for the app package.
const AppArtifactName = "youtube.apk"

func (a *APKMirror) Name() string   { return a.App.Slug() }
func (a *APKMirror) Required() bool { return !a.Optional }

func (a *APKMirror) Resolve(ctx context.Context) (api.FetchTask, error) {
	slug, v := a.App.Slug(), FormatVersion(a.Version)
	page := fmt.Sprintf("%s/apk/google-inc/%s/%s-%s-release/%s-%s-android-apk-download/",
		strings.TrimRight(a.Base, "/"), slug, slug, v, slug, v)

	doc, err := fetchDocument(ctx, a.Client, page)
	if err != nil {
		return api.FetchTask{}, err
	}
	next, err := doc.FirstAttr(downloadPageSelector, "href")
	if err != nil {
		return api.FetchTask{}, fmt.Errorf("%s: %w", page, err)
	}
	nextURL, err := join(a.Base, next)
	if err != nil {
		return api.FetchTask{}, err
	}

	doc, err = fetchDocument(ctx, a.Client, nextURL)
	if err != nil {
		return api.FetchTask{}, err
	}
	href, err := doc.FirstAttr(downloadLinkSelector, "href")
	if err != nil {
		return api.FetchTask{}, fmt.Errorf("%s: %w", nextURL, err)
	}
	u, err := join(a.Base, href)
	if err != nil {
		return api.FetchTask{}, err
	}
	return api.FetchTask{URL: u, Name: AppArtifactName, Required: a.Required()}, nil
}

// FormatVersion rewrites 18.3.39 as 18-03-39, the form used in page paths.
func FormatVersion(version string) string {
	parts := strings.Split(version, ".")
	for i, p := range parts {
		if i > 0 && len(p) < 2 {
			parts[i] = strings.Repeat("0", 2-len(p)) + p
		}
	}
	return strings.Join(parts, "-")
}

func fetchDocument(ctx context.Context, c *Client, page string) (*document.Document, error) {
	resp, err := c.Get(ctx, page)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return document.Parse(resp.Body)
}

func join(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}
