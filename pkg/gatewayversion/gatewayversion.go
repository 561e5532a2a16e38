package gatewayversion

import "fmt"

var (
	version   string
	commit    string
	buildTime string
)

// Version returns gateway version information.
func Version() string {
	if version == "" {
		version = "dev"
	}

	return fmt.Sprintf("version: %s, commit: %s, build time: %s", version, commit, buildTime)
}
