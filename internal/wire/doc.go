// Package wire encodes the two binary formats the daemon speaks: window
// messages exchanged between daemons, and query replies handed to local
// clients.
//
// All integers are big endian. Window messages carry ages instead of
// absolute timestamps so sender and receiver clocks never need to agree.
package wire
