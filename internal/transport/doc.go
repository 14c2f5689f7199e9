// Package transport carries window pushes over UDP datagrams. Messages that
// do not fit in one datagram, and every pull, go through a fallback
// transport instead.
package transport
