// Package client is the connection manager used by socket consumers of the
// relay. Store is a plain state container (notification buffer and
// connection status); Manager owns the socket and applies inbound events to
// the Store and the local Bus.
package client
