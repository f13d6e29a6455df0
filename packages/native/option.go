package native

// Option identifies a handle option. Each option accepts exactly one value
// kind and must be set through the matching SetOpt* method.
type Option int

const (
	OptURL Option = iota + 1
	OptCustomRequest
	OptHTTPHeader
	OptPostFieldSize
	OptCopyPostFields
	OptNoBody
	OptCAInfo
	OptSSLVerifyPeer
	OptSSLVerifyHost
	OptProtocols
	OptRedirProtocols
	OptFollowLocation
	OptMaxRedirs
	OptConnectTimeoutMS
	OptTimeoutMS
	OptLowSpeedLimit
	OptLowSpeedTime
	OptBufferSize
	OptMaxFileSize
	OptNoProgress
	OptWriteData
	OptHeaderData
	OptXferInfoData
)

type optionKind int

const (
	kindLong optionKind = iota
	kindString
	kindSlist
	kindBytes
	kindPointer
)

var optionKinds = map[Option]optionKind{
	OptURL:              kindString,
	OptCustomRequest:    kindString,
	OptHTTPHeader:       kindSlist,
	OptPostFieldSize:    kindLong,
	OptCopyPostFields:   kindBytes,
	OptNoBody:           kindLong,
	OptCAInfo:           kindString,
	OptSSLVerifyPeer:    kindLong,
	OptSSLVerifyHost:    kindLong,
	OptProtocols:        kindLong,
	OptRedirProtocols:   kindLong,
	OptFollowLocation:   kindLong,
	OptMaxRedirs:        kindLong,
	OptConnectTimeoutMS: kindLong,
	OptTimeoutMS:        kindLong,
	OptLowSpeedLimit:    kindLong,
	OptLowSpeedTime:     kindLong,
	OptBufferSize:       kindLong,
	OptMaxFileSize:      kindLong,
	OptNoProgress:       kindLong,
	OptWriteData:        kindPointer,
	OptHeaderData:       kindPointer,
	OptXferInfoData:     kindPointer,
}

// Protocol bits for OptProtocols and OptRedirProtocols.
const (
	ProtoHTTP  int64 = 1 << 0
	ProtoHTTPS int64 = 1 << 1
	ProtoAll         = ProtoHTTP | ProtoHTTPS
)

// Info identifies a value readable after Perform.
type Info int

const (
	InfoNameLookupTime Info = iota + 1
	InfoConnectTime
	InfoAppConnectTime
	InfoPreTransferTime
	InfoStartTransferTime
	InfoTotalTime
	InfoRedirectTime
	InfoResponseCode
	InfoRedirectCount
	InfoSizeDownload
	InfoHeaderSize
)

// Buffer size bounds, in bytes.
const (
	DefaultBufferSize = 16 * 1024
	MinBufferSize     = 1024
	MaxBufferSize     = 10 * 1024 * 1024
)

// DefaultMaxRedirs caps redirects when OptMaxRedirs is left at -1.
const DefaultMaxRedirs = 30
