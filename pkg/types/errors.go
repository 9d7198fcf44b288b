package types

import "errors"

// Retrieval error taxonomy. Callers branch with errors.Is rather than
// comparing numeric codes.
var (
	// ErrURLParse reports a URL that could not be parsed or has an
	// unsupported scheme.
	ErrURLParse = errors.New("malformed URL")
	// ErrProxyConfig reports a missing, unparsable, or non-HTTP proxy URL.
	ErrProxyConfig = errors.New("proxy configuration error")
	// ErrConnection reports a transport failure surfaced by a protocol loop.
	ErrConnection = errors.New("connection error")
	// ErrRead reports a failed read from the remote endpoint mid-transfer.
	ErrRead = errors.New("read error")
	// ErrWrite reports a failed write to the local sink mid-transfer.
	ErrWrite = errors.New("write error")
	// ErrRedirectCycle reports a redirect pointing back to an earlier hop.
	ErrRedirectCycle = errors.New("redirection cycle detected")
	// ErrQuotaExceeded reports that the download quota has been passed.
	ErrQuotaExceeded = errors.New("download quota exceeded")
	// ErrWrongResponse reports an unacceptable server response code.
	ErrWrongResponse = errors.New("unexpected server response")
)
