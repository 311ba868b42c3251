package version

// Set with -ldflags "-X github.com/Brownie44l1/garbage-api/internal/version.Version=..."
var (
	Version     = "dev"
	GitRevision = "unknown"
)
