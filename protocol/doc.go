// Package protocol implements the JSON message envelope exchanged between an
// agent and its management server.
//
// A Message is a free-form JSON object plus a handful of well-known fields
// (status, action, expiration). An Answer is a Message that additionally
// carries HTTP-level metadata (code, status text, routing identifiers) as
// private bookkeeping: application errors are always reported inside the
// payload under a 200 response so that intermediaries cannot confuse an
// application failure with a transport failure.
package protocol
