package version

import "fmt"

// values overridden at build time via -ldflags.
var (
	gitVersion = "v0.0.0-unknown"
	gitCommit  = "unknown"
	buildDate  = "unknown"
)

type Version struct {
	GitVersion string `json:"gitVersion"`
	GitCommit  string `json:"gitCommit"`
	BuildDate  string `json:"buildDate"`
}

func Get() Version {
	return Version{
		GitVersion: gitVersion,
		GitCommit:  gitCommit,
		BuildDate:  buildDate,
	}
}

func (v Version) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", v.GitVersion, v.GitCommit, v.BuildDate)
}
