package gostgrator

// Version is the engine's release version, reported by dbchanges --version.
var Version = "v0.3.0"
