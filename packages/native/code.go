package native

import "fmt"

// Code is the result of a native operation.
type Code int

const (
	CodeOK                     Code = 0
	CodeUnsupportedProtocol    Code = 1
	CodeFailedInit             Code = 2
	CodeURLMalformat           Code = 3
	CodeCouldntResolveHost     Code = 6
	CodeCouldntConnect         Code = 7
	CodeWriteError             Code = 23
	CodeOperationTimedOut      Code = 28
	CodeSSLConnectError        Code = 35
	CodeAbortedByCallback      Code = 42
	CodeBadFunctionArgument    Code = 43
	CodeTooManyRedirects       Code = 47
	CodeUnknownOption          Code = 48
	CodeGotNothing             Code = 52
	CodeSendError              Code = 55
	CodeRecvError              Code = 56
	CodePeerFailedVerification Code = 60
	CodeFileSizeExceeded       Code = 63
	CodeSSLCACertBadFile       Code = 77
	CodeRecursiveAPICall       Code = 93
)

var codeText = map[Code]string{
	CodeOK:                     "No error",
	CodeUnsupportedProtocol:    "Unsupported protocol",
	CodeFailedInit:             "Failed initialization",
	CodeURLMalformat:           "URL using bad/illegal format or missing URL",
	CodeCouldntResolveHost:     "Couldn't resolve host name",
	CodeCouldntConnect:         "Couldn't connect to server",
	CodeWriteError:             "Failed writing received data to disk/application",
	CodeOperationTimedOut:      "Timeout was reached",
	CodeSSLConnectError:        "SSL connect error",
	CodeAbortedByCallback:      "Operation was aborted by an application callback",
	CodeBadFunctionArgument:    "A libcurl function was given a bad argument",
	CodeTooManyRedirects:       "Number of redirects hit maximum amount",
	CodeUnknownOption:          "An unknown option was passed in to libcurl",
	CodeGotNothing:             "Server returned nothing (no headers, no data)",
	CodeSendError:              "Failed sending data to the peer",
	CodeRecvError:              "Failure when receiving data from the peer",
	CodePeerFailedVerification: "SSL peer certificate or SSH remote key was not OK",
	CodeFileSizeExceeded:       "Maximum file size exceeded",
	CodeSSLCACertBadFile:       "Problem with the SSL CA cert (path? access rights?)",
	CodeRecursiveAPICall:       "API function called from within callback",
}

// StrError returns the textual description of a code.
func StrError(c Code) string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown error (%d)", int(c))
}

func (c Code) String() string {
	return StrError(c)
}
