package native

import (
	"bytes"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/postkit/packages/timing"
)

// WriteFunc receives body bytes. It must return len(data) to continue; any
// other value aborts the transfer with CodeWriteError. data is only valid for
// the duration of the call.
type WriteFunc func(data []byte, userdata Userdata) int

// HeaderFunc receives one raw header line at a time, including the status line
// and the terminating blank line. The return value follows WriteFunc.
type HeaderFunc func(line []byte, userdata Userdata) int

// XferInfoFunc reports progress. A non-zero return aborts the transfer with
// CodeAbortedByCallback.
type XferInfoFunc func(userdata Userdata, dlTotal, dlNow, ulTotal, ulNow int64) int

// Easy is a single-transfer handle. It is not safe for concurrent use.
type Easy struct {
	url           string
	customRequest string
	headers       []string
	postFieldSize int64
	postFields    []byte
	hasPostFields bool
	noBody        bool

	caInfo     string
	verifyPeer bool
	verifyHost bool

	protocols      int64
	redirProtocols int64
	followLocation bool
	maxRedirs      int64

	connectTimeout time.Duration
	timeout        time.Duration
	lowSpeedLimit  int64
	lowSpeedTime   time.Duration
	bufferSize     int
	maxFileSize    int64
	noProgress     bool

	writeFn    WriteFunc
	headerFn   HeaderFunc
	xferInfoFn XferInfoFunc
	writeData  Userdata
	headerData Userdata
	xferData   Userdata

	performing bool
	errBuf     string

	responseCode  int64
	redirectCount int64
	sizeDownload  int64
	headerSize    int64
	counters      timing.Counters
}

// NewEasy returns a handle with default options: peer and host verification
// on, all protocols allowed, no redirects followed, progress callbacks off.
func NewEasy() *Easy {
	return &Easy{
		postFieldSize:  -1,
		verifyPeer:     true,
		verifyHost:     true,
		protocols:      ProtoAll,
		redirProtocols: ProtoAll,
		maxRedirs:      -1,
		bufferSize:     DefaultBufferSize,
		noProgress:     true,
	}
}

// Cleanup releases the handle. The handle must not be used afterwards.
func (e *Easy) Cleanup() {
	e.postFields = nil
	e.headers = nil
	e.writeFn, e.headerFn, e.xferInfoFn = nil, nil, nil
	e.writeData, e.headerData, e.xferData = 0, 0, 0
}

func (e *Easy) check(opt Option, kind optionKind) Code {
	if e.performing {
		return CodeRecursiveAPICall
	}
	k, ok := optionKinds[opt]
	if !ok {
		return CodeUnknownOption
	}
	if k != kind {
		return CodeBadFunctionArgument
	}
	return CodeOK
}

// SetOptString sets a string option. Values containing CR, LF or NUL are
// rejected since the handle's header encoding is line oriented.
func (e *Easy) SetOptString(opt Option, value string) Code {
	if c := e.check(opt, kindString); c != CodeOK {
		return c
	}
	if strings.ContainsAny(value, "\r\n\x00") {
		return CodeBadFunctionArgument
	}
	switch opt {
	case OptURL:
		e.url = value
	case OptCustomRequest:
		e.customRequest = value
	case OptCAInfo:
		e.caInfo = value
	}
	return CodeOK
}

// SetOptSlist sets a list option. A nil list clears it.
func (e *Easy) SetOptSlist(opt Option, values []string) Code {
	if c := e.check(opt, kindSlist); c != CodeOK {
		return c
	}
	for _, v := range values {
		if strings.ContainsAny(v, "\r\n\x00") {
			return CodeBadFunctionArgument
		}
	}
	e.headers = append([]string(nil), values...)
	return CodeOK
}

// SetOptLong sets an integer option.
func (e *Easy) SetOptLong(opt Option, value int64) Code {
	if c := e.check(opt, kindLong); c != CodeOK {
		return c
	}
	switch opt {
	case OptPostFieldSize:
		if value < -1 {
			return CodeBadFunctionArgument
		}
		e.postFieldSize = value
	case OptNoBody:
		e.noBody = value != 0
	case OptSSLVerifyPeer:
		e.verifyPeer = value != 0
	case OptSSLVerifyHost:
		e.verifyHost = value != 0
	case OptProtocols:
		e.protocols = value & ProtoAll
	case OptRedirProtocols:
		e.redirProtocols = value & ProtoAll
	case OptFollowLocation:
		e.followLocation = value != 0
	case OptMaxRedirs:
		e.maxRedirs = value
	case OptConnectTimeoutMS:
		e.connectTimeout = nonNegativeMillis(value)
	case OptTimeoutMS:
		e.timeout = nonNegativeMillis(value)
	case OptLowSpeedLimit:
		if value < 0 {
			return CodeBadFunctionArgument
		}
		e.lowSpeedLimit = value
	case OptLowSpeedTime:
		if value < 0 {
			return CodeBadFunctionArgument
		}
		e.lowSpeedTime = time.Duration(value) * time.Second
	case OptBufferSize:
		e.bufferSize = clampBufferSize(value)
	case OptMaxFileSize:
		if value < 0 {
			return CodeBadFunctionArgument
		}
		e.maxFileSize = value
	case OptNoProgress:
		e.noProgress = value != 0
	}
	return CodeOK
}

// SetOptPostFields sets the request body with copy semantics. If
// OptPostFieldSize was set before this call, exactly that many bytes are
// copied; otherwise the body ends at the first zero byte. Declare the size
// first for binary bodies.
func (e *Easy) SetOptPostFields(opt Option, data []byte) Code {
	if c := e.check(opt, kindBytes); c != CodeOK {
		return c
	}
	n := int64(len(data))
	if e.postFieldSize >= 0 {
		if e.postFieldSize > n {
			return CodeBadFunctionArgument
		}
		n = e.postFieldSize
	} else if i := bytes.IndexByte(data, 0); i >= 0 {
		n = int64(i)
	}
	e.postFields = append(make([]byte, 0, n), data[:n]...)
	e.hasPostFields = true
	if e.postFieldSize < 0 {
		e.postFieldSize = n
	}
	return CodeOK
}

// SetOptPointer sets a userdata option.
func (e *Easy) SetOptPointer(opt Option, ud Userdata) Code {
	if c := e.check(opt, kindPointer); c != CodeOK {
		return c
	}
	switch opt {
	case OptWriteData:
		e.writeData = ud
	case OptHeaderData:
		e.headerData = ud
	case OptXferInfoData:
		e.xferData = ud
	}
	return CodeOK
}

// SetWriteFunc registers the body callback.
func (e *Easy) SetWriteFunc(fn WriteFunc) Code {
	if e.performing {
		return CodeRecursiveAPICall
	}
	e.writeFn = fn
	return CodeOK
}

// SetHeaderFunc registers the header callback.
func (e *Easy) SetHeaderFunc(fn HeaderFunc) Code {
	if e.performing {
		return CodeRecursiveAPICall
	}
	e.headerFn = fn
	return CodeOK
}

// SetXferInfoFunc registers the progress callback. It only runs when
// OptNoProgress is 0.
func (e *Easy) SetXferInfoFunc(fn XferInfoFunc) Code {
	if e.performing {
		return CodeRecursiveAPICall
	}
	e.xferInfoFn = fn
	return CodeOK
}

// ErrorBuffer returns the detailed description of the last failure.
func (e *Easy) ErrorBuffer() string {
	return e.errBuf
}

// GetInfoDouble reads a timing counter in seconds.
func (e *Easy) GetInfoDouble(info Info) (float64, Code) {
	var d time.Duration
	switch info {
	case InfoNameLookupTime:
		d = e.counters.NameLookup
	case InfoConnectTime:
		d = e.counters.Connect
	case InfoAppConnectTime:
		d = e.counters.AppConnect
	case InfoPreTransferTime:
		d = e.counters.PreTransfer
	case InfoStartTransferTime:
		d = e.counters.StartTransfer
	case InfoTotalTime:
		d = e.counters.Total
	case InfoRedirectTime:
		d = e.counters.Redirect
	default:
		return 0, CodeBadFunctionArgument
	}
	return d.Seconds(), CodeOK
}

// GetInfoLong reads an integer value.
func (e *Easy) GetInfoLong(info Info) (int64, Code) {
	switch info {
	case InfoResponseCode:
		return e.responseCode, CodeOK
	case InfoRedirectCount:
		return e.redirectCount, CodeOK
	case InfoSizeDownload:
		return e.sizeDownload, CodeOK
	case InfoHeaderSize:
		return e.headerSize, CodeOK
	}
	return 0, CodeBadFunctionArgument
}

func nonNegativeMillis(v int64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}

func clampBufferSize(v int64) int {
	switch {
	case v <= 0:
		return DefaultBufferSize
	case v < MinBufferSize:
		return MinBufferSize
	case v > MaxBufferSize:
		return MaxBufferSize
	}
	return int(v)
}
