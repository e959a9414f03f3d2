package api

import (
	"fmt"
	"strings"
	"time"
)

// AnyVersion marks a patch that applies to every app version.
const AnyVersion = "all"

// App is a patchable target application.
type App int

const (
	YouTube App = iota
	YouTubeMusic
)

// Apps lists every supported target in prompt order.
var Apps = []App{YouTube, YouTubeMusic}

type appInfo struct {
	token     string
	title     string
	catalogID string
	slug      string
}

var appTable = map[App]appInfo{
	YouTube: {
		token:     "yt",
		title:     "YouTube",
		catalogID: "com.google.android.youtube",
		slug:      "youtube",
	},
	YouTubeMusic: {
		token:     "ytm",
		title:     "YouTube Music",
		catalogID: "com.google.android.apps.youtube.music",
		slug:      "youtube-music",
	},
}

// ParseApp maps an operator token (yt, ytm) to an App.
func ParseApp(token string) (App, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	for _, a := range Apps {
		if appTable[a].token == t {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%s is not valid choice", t)
}

func (a App) Token() string     { return appTable[a].token }
func (a App) String() string    { return appTable[a].title }
func (a App) CatalogID() string { return appTable[a].catalogID }
func (a App) Slug() string      { return appTable[a].slug }

// FetchTask describes one artifact transfer.
type FetchTask struct {
	URL  string `json:"url" yaml:"url"`
	Name string `json:"name" yaml:"name"`
	// Required artifacts gate the engine invocation.
	Required bool `json:"required" yaml:"required"`
}

// FetchResult is produced once per successfully completed FetchTask.
type FetchResult struct {
	Name    string        `json:"name"`
	Elapsed time.Duration `json:"elapsed"`
	Bytes   int64         `json:"bytes"`
}

type PatchDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	App         string `json:"app" yaml:"app"`
	Version     string `json:"version" yaml:"version"`
}

// PatchSelection partitions the presented descriptors by name.
type PatchSelection struct {
	Included []string `json:"included"`
	Excluded []string `json:"excluded"`
}

// NewPatchSelection includes the descriptors at the given indices and
// excludes every other one. Unknown indices and duplicates are ignored and
// catalog order is kept in both lists.
func NewPatchSelection(descs []PatchDescriptor, indices []int) PatchSelection {
	picked := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		picked[i] = struct{}{}
	}
	sel := PatchSelection{Included: []string{}, Excluded: []string{}}
	for i, d := range descs {
		if _, ok := picked[i]; ok {
			sel.Included = append(sel.Included, d.Name)
		} else {
			sel.Excluded = append(sel.Excluded, d.Name)
		}
	}
	return sel
}

// InvocationSpec holds everything the engine needs for one run.
type InvocationSpec struct {
	Jar          string
	App          string
	Bundle       string
	Integrations string
	Output       string
	Selection    PatchSelection
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)
