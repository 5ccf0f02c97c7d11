package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = SemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// SemVer is the current version of in3-go.
	// Must be a string because scripts like dist.sh read this file.
	SemVer = "0.4.0"

	// ProtocolVersion is the in3 protocol version announced to nodes in the
	// in3 section of every request.
	ProtocolVersion = "2.1.0"
)
