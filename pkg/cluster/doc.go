// Package cluster carries the commissioning commands a commissioner sends
// to a commissionee once a PASE session is up, and CommissioningComplete
// once CASE is up.
//
// Every exchange is one CBOR request answered by one CBOR response on a
// transport.MessageConn:
//
//	Request  {1: messageId, 2: command, 3: payload}
//	Response {1: messageId, 2: status,  3: payload, 4: message}
//
// Client is the commissioner side. It holds one exchange in flight at a
// time, reports each round trip to a log.Logger and an ExchangeRecorder, and
// turns non-success statuses into *StatusError.
//
// Server is the commissionee side. It decodes requests, dispatches them to a
// Handler and encodes the result. A Handler error that wraps a *StatusError
// is sent with that status; any other error is sent as StatusFailure.
package cluster
