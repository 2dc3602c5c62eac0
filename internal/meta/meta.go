package meta

const (
	CLIName = "agentchat"
)

var (
	// Version may be overridden by the linker.
	Version = "dev"
	// Commit may be overridden by the linker.
	Commit = "unknown"
)
