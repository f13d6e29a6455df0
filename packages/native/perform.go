package native

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/postkit/packages/timing"
)

// progressInterval is how often the transfer-info callback and the watchdogs
// run while no data arrives.
var progressInterval = 50 * time.Millisecond

var (
	errTimedOut      = errors.New("operation timed out")
	errAborted       = errors.New("aborted by callback")
	errTooManyRedirs = errors.New("maximum redirects followed")
	errRedirProtocol = errors.New("redirect to a disabled protocol")
)

type caError struct {
	path string
	err  error
}

func (e *caError) Error() string {
	if e.path == "" {
		return fmt.Sprintf("error setting certificate verify locations: %v", e.err)
	}
	return fmt.Sprintf("error setting certificate verify locations: CAfile: %s: %v", e.path, e.err)
}

func (e *caError) Unwrap() error { return e.err }

type roundTrip struct {
	resp *http.Response
	err  error
}

type chunk struct {
	n   int
	err error
}

// Perform runs the transfer and blocks until it completes or aborts.
func (e *Easy) Perform() Code {
	if e.performing {
		return CodeRecursiveAPICall
	}
	e.performing = true
	defer func() { e.performing = false }()

	e.errBuf = ""
	e.responseCode, e.redirectCount, e.sizeDownload, e.headerSize = 0, 0, 0, 0
	e.counters = timing.Counters{}

	code := e.perform()
	if code != CodeOK && e.errBuf == "" {
		e.errBuf = StrError(code)
	}
	return code
}

// performer holds the state of one Perform call. It is only touched by the
// goroutine running Perform.
type performer struct {
	e      *Easy
	ctx    context.Context
	cancel context.CancelCauseFunc
	rec    *timing.Recorder

	deadline <-chan time.Time
	ticks    <-chan time.Time

	code        Code
	dlTotal     int64
	ulTotal     int64
	ulNow       int64
	windowStart time.Time
	windowBytes int64
}

func (e *Easy) perform() Code {
	u, err := url.Parse(e.url)
	if e.url == "" || err != nil || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("no host part in the URL %q", e.url)
		}
		e.errBuf = err.Error()
		return CodeURLMalformat
	}
	if !protocolAllowed(u.Scheme, e.protocols) {
		e.errBuf = fmt.Sprintf("Protocol %q not supported or disabled", u.Scheme)
		return CodeUnsupportedProtocol
	}

	rec := timing.NewRecorder()
	defer func() {
		rec.Finish()
		e.counters = rec.Counters()
		e.redirectCount = int64(rec.Redirects())
	}()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	req, err := e.newRequest(httptrace.WithClientTrace(ctx, rec.Trace()), u)
	if err != nil {
		e.errBuf = err.Error()
		return CodeBadFunctionArgument
	}

	transport := e.newTransport()
	defer transport.CloseIdleConnections()
	client := &http.Client{
		Transport:     transport,
		CheckRedirect: e.checkRedirect(rec),
	}

	p := &performer{
		e:           e,
		ctx:         ctx,
		cancel:      cancel,
		rec:         rec,
		ulTotal:     int64(len(e.postFields)),
		windowStart: rec.Start(),
	}
	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		p.deadline = timer.C
	}
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	p.ticks = ticker.C

	return p.run(client, req)
}

func (p *performer) run(client *http.Client, req *http.Request) Code {
	rtCh := make(chan roundTrip, 1)
	go func() {
		resp, err := client.Do(req)
		rtCh <- roundTrip{resp, err}
	}()

	var rt roundTrip
wait:
	for {
		select {
		case rt = <-rtCh:
			break wait
		case <-p.deadline:
			p.abort(CodeOperationTimedOut, fmt.Errorf("%w after %d milliseconds", errTimedOut, p.e.timeout.Milliseconds()))
			p.deadline = nil
		case <-p.ticks:
			p.tick()
		}
	}

	if rt.err != nil {
		return p.fail(rt.err)
	}
	resp := rt.resp
	defer resp.Body.Close()
	if p.code != CodeOK {
		return p.code
	}

	p.ulNow = p.ulTotal
	p.e.responseCode = int64(resp.StatusCode)
	if c := p.emitHeaders(resp); c != CodeOK {
		return c
	}
	// A HEAD response declares the length of a body it never sends.
	if resp.Request == nil || resp.Request.Method != http.MethodHead {
		if max := p.e.maxFileSize; max > 0 && resp.ContentLength > max {
			p.e.errBuf = fmt.Sprintf("Exceeded the maximum allowed file size (%d) with %d bytes", max, resp.ContentLength)
			return CodeFileSizeExceeded
		}
		if resp.ContentLength > 0 {
			p.dlTotal = resp.ContentLength
		}
	}
	return p.readBody(resp.Body)
}

func (p *performer) readBody(body io.Reader) Code {
	chunks := make(chan chunk)
	ack := make(chan struct{})
	done := make(chan struct{})
	buf := make([]byte, p.e.bufferSize)

	go func() {
		defer close(done)
		for {
			n, err := body.Read(buf)
			select {
			case chunks <- chunk{n, err}:
			case <-p.ctx.Done():
				return
			}
			if err != nil {
				return
			}
			select {
			case <-ack:
			case <-p.ctx.Done():
				return
			}
		}
	}()
	defer func() {
		p.cancel(nil)
		<-done
	}()

	for {
		select {
		case ch := <-chunks:
			if ch.n > 0 {
				if c := p.deliver(buf[:ch.n]); c != CodeOK {
					return c
				}
			}
			if errors.Is(ch.err, io.EOF) {
				return p.progressCheck()
			}
			if ch.err != nil {
				if p.code != CodeOK {
					return p.code
				}
				p.e.errBuf = ch.err.Error()
				return CodeRecvError
			}
			ack <- struct{}{}
		case <-p.deadline:
			p.abort(CodeOperationTimedOut, fmt.Errorf("%w after %d milliseconds with %d bytes received",
				errTimedOut, p.e.timeout.Milliseconds(), p.e.sizeDownload))
			return p.code
		case <-p.ticks:
			p.tick()
			if p.code != CodeOK {
				return p.code
			}
		}
	}
}

func (p *performer) deliver(data []byte) Code {
	e := p.e
	e.sizeDownload += int64(len(data))
	p.windowBytes += int64(len(data))

	if e.maxFileSize > 0 && e.sizeDownload > e.maxFileSize {
		e.errBuf = fmt.Sprintf("Exceeded the maximum allowed file size (%d)", e.maxFileSize)
		p.abort(CodeFileSizeExceeded, nil)
		return CodeFileSizeExceeded
	}
	if e.writeFn != nil {
		if n := e.writeFn(data, e.writeData); n != len(data) {
			e.errBuf = fmt.Sprintf("Failure writing output to destination, passed %d returned %d", len(data), n)
			p.abort(CodeWriteError, nil)
			return CodeWriteError
		}
	}
	return p.progressCheck()
}

func (p *performer) progressCheck() Code {
	e := p.e
	if e.noProgress || e.xferInfoFn == nil {
		return CodeOK
	}
	if e.xferInfoFn(e.xferData, p.dlTotal, e.sizeDownload, p.ulTotal, p.ulNow) != 0 {
		e.errBuf = "Callback aborted"
		p.abort(CodeAbortedByCallback, errAborted)
		return CodeAbortedByCallback
	}
	return CodeOK
}

func (p *performer) tick() {
	if p.code != CodeOK {
		return
	}
	if p.progressCheck() != CodeOK {
		return
	}

	e := p.e
	if e.lowSpeedLimit <= 0 || e.lowSpeedTime <= 0 {
		return
	}
	now := time.Now()
	elapsed := now.Sub(p.windowStart)
	if elapsed < e.lowSpeedTime {
		return
	}
	if float64(p.windowBytes)/elapsed.Seconds() < float64(e.lowSpeedLimit) {
		p.abort(CodeOperationTimedOut, fmt.Errorf("Operation too slow. Less than %d bytes/sec transferred the last %d seconds",
			e.lowSpeedLimit, int(e.lowSpeedTime.Seconds())))
		return
	}
	p.windowStart = now
	p.windowBytes = 0
}

// abort records the first abort reason and cancels the in-flight request.
func (p *performer) abort(code Code, cause error) {
	if p.code != CodeOK {
		return
	}
	p.code = code
	if cause != nil {
		p.e.errBuf = cause.Error()
	}
	if cause == nil {
		cause = errors.New(StrError(code))
	}
	p.cancel(cause)
}

func (p *performer) fail(err error) Code {
	if p.code != CodeOK {
		return p.code
	}
	p.e.errBuf = err.Error()
	return classify(err)
}

func classify(err error) Code {
	var (
		caErr      *caError
		dnsErr     *net.DNSError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
		verifyErr  *tls.CertificateVerificationError
		recordErr  tls.RecordHeaderError
		netErr     net.Error
		opErr      *net.OpError
	)
	switch {
	case errors.As(err, &caErr):
		return CodeSSLCACertBadFile
	case errors.Is(err, errTooManyRedirs):
		return CodeTooManyRedirects
	case errors.Is(err, errRedirProtocol):
		return CodeUnsupportedProtocol
	case errors.As(err, &dnsErr):
		return CodeCouldntResolveHost
	case errors.As(err, &unknownCA), errors.As(err, &hostErr),
		errors.As(err, &invalidErr), errors.As(err, &verifyErr):
		return CodePeerFailedVerification
	case errors.As(err, &netErr) && netErr.Timeout():
		return CodeOperationTimedOut
	case errors.As(err, &recordErr), strings.Contains(err.Error(), "tls:"):
		return CodeSSLConnectError
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return CodeCouldntConnect
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeGotNothing
	}
	return CodeSendError
}

func (p *performer) emitHeaders(resp *http.Response) Code {
	e := p.e
	lines := make([]string, 0, len(resp.Header)+2)
	lines = append(lines, resp.Proto+" "+resp.Status+"\r\n")

	keys := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			lines = append(lines, k+": "+v+"\r\n")
		}
	}
	lines = append(lines, "\r\n")

	for _, line := range lines {
		e.headerSize += int64(len(line))
		if e.headerFn == nil {
			continue
		}
		if n := e.headerFn([]byte(line), e.headerData); n != len(line) {
			e.errBuf = "Failed writing header"
			p.abort(CodeWriteError, nil)
			return CodeWriteError
		}
	}
	return CodeOK
}

func (e *Easy) newRequest(ctx context.Context, u *url.URL) (*http.Request, error) {
	method := http.MethodGet
	var body io.Reader
	if e.hasPostFields {
		method = http.MethodPost
		body = bytes.NewReader(e.postFields)
	}
	if e.noBody {
		method = http.MethodHead
	}
	if e.customRequest != "" {
		method = e.customRequest
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "*/*")
	if e.hasPostFields {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	seen := make(map[string]bool, len(e.headers))
	for _, line := range e.headers {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			// "Name;" sends the header with an empty value.
			if n, found := strings.CutSuffix(strings.TrimSpace(line), ";"); found && n != "" {
				req.Header.Set(n, "")
			}
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" {
			continue
		}
		if value == "" {
			req.Header.Del(name)
			continue
		}
		if strings.EqualFold(name, "Host") {
			req.Host = value
			continue
		}
		key := http.CanonicalHeaderKey(name)
		if seen[key] {
			req.Header.Add(key, value)
		} else {
			req.Header.Set(key, value)
			seen[key] = true
		}
	}
	return req, nil
}

func (e *Easy) newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   e.connectTimeout,
		KeepAlive: -1,
	}
	return &http.Transport{
		DialContext:            dialer.DialContext,
		TLSClientConfig:        e.tlsConfig(),
		TLSHandshakeTimeout:    e.connectTimeout,
		DisableKeepAlives:      true,
		DisableCompression:     true,
		MaxResponseHeaderBytes: 1 << 20,
	}
}

// tlsConfig verifies peers against the CA bundle, loaded at the first
// handshake so plain http transfers never touch it.
func (e *Easy) tlsConfig() *tls.Config {
	var (
		once  sync.Once
		roots *x509.CertPool
		err   error
	)
	caInfo, verifyPeer, verifyHost := e.caInfo, e.verifyPeer, e.verifyHost
	load := func() (*x509.CertPool, error) {
		once.Do(func() { roots, err = loadRoots(caInfo) })
		return roots, err
	}

	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			if !verifyPeer {
				return nil
			}
			pool, err := load()
			if err != nil {
				return err
			}
			if len(cs.PeerCertificates) == 0 {
				return errors.New("tls: server presented no certificates")
			}
			opts := x509.VerifyOptions{
				Roots:         pool,
				Intermediates: x509.NewCertPool(),
			}
			for _, c := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(c)
			}
			if verifyHost {
				opts.DNSName = cs.ServerName
			}
			_, err = cs.PeerCertificates[0].Verify(opts)
			return err
		},
	}
}

func loadRoots(path string) (*x509.CertPool, error) {
	if path == "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, &caError{err: err}
		}
		return pool, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &caError{path: path, err: err}
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, &caError{path: path, err: errors.New("no certificates found")}
	}
	return pool, nil
}

func (e *Easy) checkRedirect(rec *timing.Recorder) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if !e.followLocation {
			return http.ErrUseLastResponse
		}
		max := e.maxRedirs
		if max < 0 {
			max = DefaultMaxRedirs
		}
		if int64(len(via)) > max {
			return fmt.Errorf("%w (%d)", errTooManyRedirs, max)
		}
		if !protocolAllowed(req.URL.Scheme, e.redirProtocols&e.protocols) {
			return fmt.Errorf("%w: %s", errRedirProtocol, req.URL.Scheme)
		}
		rec.Redirected()
		return nil
	}
}

func protocolAllowed(scheme string, mask int64) bool {
	switch strings.ToLower(scheme) {
	case "http":
		return mask&ProtoHTTP != 0
	case "https":
		return mask&ProtoHTTPS != 0
	}
	return false
}
