package version

// Name is the service name reported to tracing and logs.
const Name = "messmate"

// Version is overridden at build time with -ldflags.
var Version = "dev"
