// Package relay implements the broadcast hub: it owns every authenticated
// socket connection of this process, partitions them into rooms by role and
// relays events between connections and server-side producers.
//
// All room state lives in a single actor goroutine (Hub.run); public methods
// send commands to it. Each connection has its own writer goroutine with a
// bounded send buffer, so a slow client never blocks routing. Clients whose
// buffer is full are evicted.
//
// When a Bridge is configured every delivery is also forwarded to other
// instances, which hand it back to their hub through DeliverRemote.
package relay
