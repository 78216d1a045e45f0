// Package runner provides the client side of the test runner protocol.
//
// The main components are:
//   - Client: owns the single connection to the runner process, reconnects with a
//     fixed backoff when it drops, and correlates requests with responses
//   - StaticBackoff: the fixed wait between connection attempts
//
// Enumerations are answered in FIFO order. Each RunTests call tracks its own set of
// in-flight test ids and returns once all of them have reported a final outcome.
// Results are pushed to observers registered with Client.OnResult as they arrive.
package runner
