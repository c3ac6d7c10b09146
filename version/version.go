package version

// Version is the current version of Kestrel. It is overridden at build time
// through linker flags.
var Version = "0.1.0-dev"
