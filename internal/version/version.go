package version

// Version is the release version, set at build time:
//
//	go build -ldflags "-X git.home.luguber.info/inful/dashrender/internal/version.Version=v0.3.0" ./cmd/dashrender
var Version = "dev"

// Build metadata, also set through ldflags.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String formats the version line printed by --version.
func String() string {
	return Version + " (commit " + GitCommit + ", built " + BuildTime + ")"
}
