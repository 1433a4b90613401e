package version

// Version is the current filewarden release.
var Version = "0.3.1"
