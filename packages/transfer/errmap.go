package transfer

import (
	"errors"
	"fmt"

	"github.com/abdul-hamid-achik/postkit/packages/native"
)

// mapResult turns a finished native transfer into an error. It returns nil
// only for a successful, uncancelled transfer. Cancellation wins over any
// result code, so a cancelled transfer never surfaces as a network error.
func mapResult(code native.Code, detail string, cancelled bool, writeErr error, p Policy) error {
	if cancelled {
		return &Error{Kind: KindCancelled, Code: code}
	}
	switch code {
	case native.CodeOK:
		return nil
	case native.CodeOperationTimedOut:
		return &Error{Kind: KindTimeout, Code: code, Err: errors.New(detail)}
	case native.CodeFileSizeExceeded:
		return &Error{Kind: KindResponseTooLarge, Code: code, Limit: p.MaxResponseSize}
	case native.CodeURLMalformat:
		return &Error{Kind: KindInvalidURL, Code: code, Err: errors.New(detail)}
	case native.CodeAbortedByCallback:
		return &Error{Kind: KindCancelled, Code: code}
	case native.CodeWriteError:
		if writeErr != nil {
			return &Error{Kind: KindNetwork, Code: code, Err: writeErr}
		}
	}
	return &Error{Kind: KindNetwork, Code: code, Err: nativeError(code, detail)}
}

func nativeError(code native.Code, detail string) error {
	msg := native.StrError(code)
	if detail == "" || detail == msg {
		return errors.New(msg)
	}
	return fmt.Errorf("%s: %s", msg, detail)
}
