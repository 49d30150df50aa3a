// ABOUTME: Build and product identity for lanrelay
// ABOUTME: Version is overridden at link time with -ldflags
package version

// Version is the release version, set with
// -ldflags "-X github.com/Resonate-Protocol/lanrelay/internal/version.Version=v1.2.3".
var Version = "0.1.0-dev"

const (
	// Product is the product name reported in logs, mDNS and the CLI.
	Product = "lanrelay"
	// Manufacturer identifies the publisher.
	Manufacturer = "Resonate Protocol"
)

// String returns "product version".
func String() string {
	return Product + " " + Version
}
