// Package htmlpage renders Margo's static landing page: a list of crates,
// each with a native version <select> whose option values are download
// URLs. The page has no form; a small script points the download link at
// the selected version, and with scripting disabled the selector does not
// change the link, so a <noscript> list links every version directly.
package htmlpage

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"sort"

	"github.com/margoregistry/margo/pkg/semver"
	"github.com/margoregistry/margo/pkg/types"
)

// IndexFileName and CSSFileName are the registry-root-relative paths the
// renderer writes to.
const (
	IndexFileName = "index.html"
	CSSFileName   = "margo.css"
)

//go:embed templates/page.html.tmpl
var pageTemplateSource string

//go:embed templates/margo.css
var cssSource []byte

var pageTemplate = template.Must(template.New("page").Parse(pageTemplateSource))

// VersionOption is one <option> in a crate's version selector.
type VersionOption struct {
	Version  string
	Label    string
	URL      string
	Yanked   bool
	Selected bool
}

// CratePage is one crate's section of the landing page.
type CratePage struct {
	Name       string
	Versions   []VersionOption
	DefaultURL string
}

// Page is the full landing-page data model passed to the template.
type Page struct {
	Crates          []CratePage
	ClipboardWidget bool
}

// BuildPage turns the loaded index records for every crate into the data
// model the template renders. crates maps crate name to its (unsorted)
// index records.
func BuildPage(crates map[string][]types.IndexRecord, baseURL string, clipboardWidget bool) Page {
	names := make([]string, 0, len(crates))
	for name := range crates {
		names = append(names, name)
	}
	sort.Strings(names)

	page := Page{ClipboardWidget: clipboardWidget}

	for _, name := range names {
		records := crates[name]
		if len(records) == 0 {
			continue
		}

		versions := make([]string, len(records))
		byVersion := make(map[string]types.IndexRecord, len(records))
		yanked := make(map[string]bool, len(records))
		for i, r := range records {
			versions[i] = r.Vers
			byVersion[r.Vers] = r
			yanked[r.Vers] = r.Yanked
		}

		ordered := semver.SortVersionsAscending(versions)
		defaultVersion := semver.GetLatestNonYanked(ordered, yanked)
		if defaultVersion == "" {
			defaultVersion = semver.GetLatestVersion(ordered)
		}

		cp := CratePage{Name: name}
		for _, v := range ordered {
			rec := byVersion[v]
			label := v
			if rec.Yanked {
				label = fmt.Sprintf("%s (yanked)", v)
			}
			url := fmt.Sprintf("%s/crates/%s/%s-%s.crate", baseURL, name, name, v)
			cp.Versions = append(cp.Versions, VersionOption{
				Version:  v,
				Label:    label,
				URL:      url,
				Yanked:   rec.Yanked,
				Selected: v == defaultVersion,
			})
			if v == defaultVersion {
				cp.DefaultURL = url
			}
		}

		page.Crates = append(page.Crates, cp)
	}

	return page
}

// Render executes the landing page template against page and returns the
// rendered HTML plus the (static) stylesheet.
func Render(page Page) ([]byte, []byte, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return nil, nil, fmt.Errorf("failed to render landing page: %w", err)
	}
	return buf.Bytes(), cssSource, nil
}
