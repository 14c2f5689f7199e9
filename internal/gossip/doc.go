// Package gossip runs the dissemination side of the daemon: a ticker-driven
// scheduler that refreshes the local entry and exchanges windows with one
// peer per round, the pluggable step algorithms choosing that peer, and the
// gRPC services peers and local clients talk to.
//
// Limitations:
// - No integrity protection on window messages
// - Pull replies spend priority exactly like pushes do
// - The universe is fixed per vector; map changes rebuild the vector
package gossip
