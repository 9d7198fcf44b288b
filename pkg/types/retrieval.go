package types

// Status classifies the outcome of a single protocol-loop invocation.
type Status int

const (
	// StatusOK means the resource was fetched to completion.
	StatusOK Status = iota
	// StatusNewLocation means the server redirected elsewhere; the target is
	// carried in Outcome.NewLocation.
	StatusNewLocation
	// StatusConnError means the connection could not be established or died.
	StatusConnError
	// StatusProtoError means the exchange failed at the protocol level.
	StatusProtoError
	// StatusWrongCode means the server answered with an unacceptable response code.
	StatusWrongCode
)

// String returns a short label for logging.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNewLocation:
		return "new-location"
	case StatusConnError:
		return "connection-error"
	case StatusProtoError:
		return "protocol-error"
	case StatusWrongCode:
		return "wrong-response-code"
	default:
		return "unknown"
	}
}

// DocFlags describes what a protocol loop fetched.
type DocFlags struct {
	// Succeeded is set when the resource was retrieved in full.
	Succeeded bool
	// IsHTML is set when the retrieved content is an HTML document.
	IsHTML bool
}

// Outcome is the result of one protocol-loop call. It is produced once per
// call and consumed immediately by the retriever.
type Outcome struct {
	Status      Status
	NewLocation string
	LocalFile   string
	Flags       DocFlags
}

// Item is one entry in a batch URL list, with optional referrer context.
type Item struct {
	URL      string
	Referrer string
}
