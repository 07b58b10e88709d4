package version

import "strings"

// Version values are set at build time using -ldflags.
var Version = "dev"
var Built = ""
var GitCommit = ""

type Info struct {
	Version   string `json:"version"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// String renders "1.2.3 (built ..., commit ...)" with empty parts omitted.
func (i Info) String() string {
	label := i.Version
	if label == "" {
		label = "dev"
	}
	var details []string
	if i.Built != "" {
		details = append(details, "built "+i.Built)
	}
	if i.GitCommit != "" {
		details = append(details, "commit "+i.GitCommit)
	}
	if len(details) == 0 {
		return label
	}
	return label + " (" + strings.Join(details, ", ") + ")"
}

// ServerHeader is the value of the Server header on every response.
func ServerHeader() string {
	label := Version
	if label == "" {
		label = "dev"
	}
	return "mho/" + label
}
