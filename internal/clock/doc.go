// Package clock provides the millisecond time source shared by the
// information vector and the gossip scheduler. Time is read through an
// interface so tests can drive a manual clock forward and backward and
// observe the vector's temporal rules deterministically.
package clock
