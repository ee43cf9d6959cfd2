// Package server implements the connection and dispatch layer of the
// JSON-RPC router.
//
// The same message state machine serves two transports. HTTP is
// one-shot: one request, one reply, and the connection is gone. The
// WebSocket transport is persistent and bidirectional: many requests
// over the socket's lifetime, plus out-of-band "emit" notifications
// pushed by the server.
//
// # Dispatch pipeline
//
// Every inbound envelope goes through the same steps regardless of
// transport:
//
//  1. Parse the JSON buffer (PARSE_ERROR on malformed input)
//  2. Validate the envelope structure (INVALID_REQUEST)
//  3. Split method into module/method and run the registry pipeline:
//     existence, params validation, authentication, role membership,
//     transport restriction
//  4. Invoke the module method with the caller's Client
//  5. Re-validate the result against the declared result shape
//
// Expected protocol faults are reported to the caller with their exact
// code and message. Anything else is masked behind a generic internal
// error and logged for operators.
//
// # Clients and emit
//
// Each connection exclusively owns one Client, the transport-independent
// principal. The injectable Registry maps every Client to its currently
// owning connection, so emit and broadcast callers can reach a principal
// without holding a transport reference. Writes to a websocket are
// serialized through an exclusive writer, so an emit arriving during an
// in-progress reply can never corrupt a frame.
//
// # Shutdown
//
// Close stops the listener, waits the configured grace period for
// in-flight work, then force-terminates whatever is still registered:
// open HTTP requests get a SERVICE_UNAVAILABLE error reply, websockets
// are closed outright.
package server
