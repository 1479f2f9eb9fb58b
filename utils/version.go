package utils

// Build metadata, set by the linker at release time.
var (
	Tag        string
	GitHash    string
	BuildStamp string
)
