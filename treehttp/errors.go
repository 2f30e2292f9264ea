package treehttp

import "fmt"

// ServerError indicates that the server reported a failure in response to a
// request.
//
// It carries the error kind and message from the failure envelope. A CAS
// conflict is not a [ServerError]; it is reported as a [tree.ConflictError].
type ServerError struct {
	Status  int
	Kind    string
	Message string
}

func (e ServerError) Error() string {
	return fmt.Sprintf(
		"server responded with %d (%s): %s",
		e.Status,
		e.Kind,
		e.Message,
	)
}

// IsMalformed returns true if the server refused the request without
// attempting the operation.
func (e ServerError) IsMalformed() bool {
	return e.Status >= 400 && e.Status < 500
}

// TransportError indicates that no response was obtained for a request.
//
// The outcome of the operation is unknown; the server may or may not have
// applied it.
type TransportError struct {
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("no response was received: %s", e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}
