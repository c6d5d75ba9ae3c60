// Package version carries build identification injected at link time.
package version

import "fmt"

// Version is the semantic version of the dhpolar binary, set via
// -ldflags "-X .../pkg/version.Version=v1.2.3".
var Version = "dev"

// GitHash is the Git hash of the commit the binary was built from.
var GitHash = "<unknown>"

// BuildDate is the UTC build timestamp.
var BuildDate = "<unknown>"

// String returns a single-line description of the running binary.
func String() string {
	return fmt.Sprintf("dhpolar %s (%s, built %s)", Version, GitHash, BuildDate)
}
