// Package provider produces the local node's resource payload each gossip
// round, together with the urgency it should be spread with.
package provider
