// Copyright 2026 R5 Labs
// This file is part of the lp2p library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package transport

import "errors"

var (
	// ErrAlreadyResponded is returned by InboundRequest.Respond/Fail when
	// the request's one-shot responder has already been used.
	ErrAlreadyResponded = errors.New("transport: request already responded")
	// ErrConnClosed is returned by Send/Request on a closed Conn.
	ErrConnClosed = errors.New("transport: socket does not exist")
	// ErrTimeout is returned by Request when the remote never answers
	// within the caller's context deadline.
	ErrTimeout = errors.New("transport: request timed out")
)
