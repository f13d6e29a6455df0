package transfer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/abdul-hamid-achik/postkit/packages/native"
)

// engines builds one engine per backend from the same policy, so contract
// tests run against both.
var engines = map[string]func(p Policy) *Engine{
	"native": func(p Policy) *Engine {
		return New(WithPolicy(p))
	},
	"fallback": func(p Policy) *Engine {
		return New(WithPolicy(p), WithForceFallback(true))
	},
}

func forEachEngine(t *testing.T, fn func(t *testing.T, newEngine func(Policy) *Engine)) {
	for name, newEngine := range engines {
		t.Run(name, func(t *testing.T) {
			fn(t, newEngine)
		})
	}
}

func testPolicy(t *testing.T) (Policy, string) {
	t.Helper()
	dir := t.TempDir()
	p := DefaultPolicy()
	p.TempDir = dir
	return p, dir
}

// slowHandler blocks until the client goes away or d passes.
func slowHandler(d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(d):
			_, _ = w.Write([]byte("slow"))
		case <-r.Context().Done():
		}
	}
}

func writeServerCA(t *testing.T, server *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// writeUnrelatedCA writes a freshly generated self-signed CA. Every
// httptest TLS server shares one certificate, so a second server cannot
// stand in for an untrusted issuer.
func writeUnrelatedCA(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "postkit test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "other-ca.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	return path
}

func TestEngine_Get(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "GET", r.Method)
			assert.Equal(t, "/test", r.URL.Path)
			assert.Equal(t, "1", r.URL.Query().Get("page"))
			assert.Equal(t, "token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message": "hello"}`))
		}))
		defer server.Close()

		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		req := NewRequest("GET", server.URL+"/test").
			SetHeader("Authorization", "token").
			SetQueryParam("page", "1")
		resp, err := e.Execute(context.Background(), req, "get")

		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "OK", resp.Status)
		assert.Equal(t, "application/json", resp.Header("Content-Type"))
		assert.Contains(t, resp.BodyString(), "hello")
		assert.Equal(t, int64(len(`{"message": "hello"}`)), resp.Size)
		assert.Equal(t, e.Backend(), resp.Backend)
		assert.Greater(t, resp.Duration, time.Duration(0))
		assert.Equal(t, resp.Duration, resp.Timing.Total)
	})
}

func TestEngine_PostPreservesZeroBytes(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		received := make(chan []byte, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			received <- body
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		payload := []byte{'a', 'b', 'c', 0, 'd', 'e', 'f', 'g', 'h', 'i'}
		req := NewRequest("POST", server.URL).
			SetHeader("Content-Type", "application/octet-stream").
			SetBody(payload)
		resp, err := e.Execute(context.Background(), req, "post")

		require.NoError(t, err)
		assert.Equal(t, 201, resp.StatusCode)
		assert.Equal(t, "Created", resp.Status)
		assert.Equal(t, payload, <-received)
	})
}

func TestEngine_BodyBelowThresholdStaysInMemory(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		body := bytes.Repeat([]byte("a"), 512)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(body)
		}))
		defer server.Close()

		p, dir := testPolicy(t)
		p.MemoryThreshold = 1024
		e := newEngine(p)
		defer e.Close()

		resp, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "small")

		require.NoError(t, err)
		assert.False(t, resp.IsSpilled())
		assert.Equal(t, body, resp.Body)
		assert.Empty(t, dirEntries(t, dir))
	})
}

func TestEngine_BodyAboveThresholdSpills(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		body := bytes.Repeat([]byte("0123456789abcdef"), 4096)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(body)
		}))
		defer server.Close()

		p, dir := testPolicy(t)
		p.MemoryThreshold = 1024
		e := newEngine(p)
		defer e.Close()

		resp, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "large")
		require.NoError(t, err)

		require.True(t, resp.IsSpilled())
		assert.Nil(t, resp.Body)
		assert.Equal(t, dir, filepath.Dir(resp.BodyFile))

		info, err := os.Stat(resp.BodyFile)
		require.NoError(t, err)
		assert.Equal(t, int64(len(body)), resp.Size)
		assert.Equal(t, resp.Size, info.Size())

		data, err := resp.ReadBody()
		require.NoError(t, err)
		assert.Equal(t, body, data)

		require.NoError(t, resp.Remove())
		assert.Empty(t, dirEntries(t, dir))
	})
}

func TestEngine_ZeroByteBody(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		resp, err := e.Execute(context.Background(), NewRequest("DELETE", server.URL), "empty")

		require.NoError(t, err)
		assert.Equal(t, 204, resp.StatusCode)
		assert.NotNil(t, resp.Body)
		assert.Empty(t, resp.Body)
		assert.Equal(t, int64(0), resp.Size)
	})
}

func TestEngine_DuplicateHeadersAreJoined(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header()["X-A"] = []string{"1", "2"}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		resp, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "headers")

		require.NoError(t, err)
		assert.Equal(t, "1, 2", resp.Headers["X-A"])
	})
}

func TestEngine_CancelRemovesSpillFile(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		flushed := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(bytes.Repeat([]byte("x"), 8192))
			w.(http.Flusher).Flush()
			close(flushed)
			<-r.Context().Done()
		}))
		defer server.Close()

		p, dir := testPolicy(t)
		p.MemoryThreshold = 1024
		e := newEngine(p)
		defer e.Close()

		errc := make(chan error, 1)
		go func() {
			_, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "cancel-me")
			errc <- err
		}()

		<-flushed
		require.Eventually(t, func() bool {
			return len(dirEntries(t, dir)) == 1
		}, 2*time.Second, 10*time.Millisecond, "body should have spilled")

		e.Cancel("cancel-me")

		select {
		case err := <-errc:
			assert.ErrorIs(t, err, ErrCancelled)
			assert.False(t, IsRetryable(err))
		case <-time.After(5 * time.Second):
			t.Fatal("cancelled transfer did not return")
		}
		assert.Empty(t, dirEntries(t, dir))
		assert.Equal(t, 0, e.InFlight())
	})
}

func TestEngine_ContextCancellation(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(slowHandler(5 * time.Second))
		defer server.Close()

		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		start := time.Now()
		_, err := e.Execute(ctx, NewRequest("GET", server.URL), "ctx")

		assert.ErrorIs(t, err, ErrCancelled)
		assert.Less(t, time.Since(start), 3*time.Second)
		assert.Equal(t, 0, e.InFlight())
	})
}

func TestEngine_Timeout(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(slowHandler(5 * time.Second))
		defer server.Close()

		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		req := NewRequest("GET", server.URL).SetTimeout(200 * time.Millisecond)
		_, err := e.Execute(context.Background(), req, "timeout")

		assert.ErrorIs(t, err, ErrTimeout)
		assert.True(t, IsRetryable(err))
	})
}

func TestEngine_StallTimeout(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}))
		defer server.Close()

		p, _ := testPolicy(t)
		p.StallLimit = 1
		p.StallWindow = time.Second
		e := newEngine(p)
		defer e.Close()

		start := time.Now()
		_, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "stall")

		assert.ErrorIs(t, err, ErrTimeout)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestEngine_ResponseTooLarge(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/declared" {
				w.Header().Set("Content-Length", "4096")
				_, _ = w.Write(bytes.Repeat([]byte("x"), 4096))
				return
			}
			for i := 0; i < 8; i++ {
				_, _ = w.Write(bytes.Repeat([]byte("x"), 512))
				w.(http.Flusher).Flush()
			}
		}))
		defer server.Close()

		p, dir := testPolicy(t)
		p.MemoryThreshold = 256
		p.MaxResponseSize = 1024
		e := newEngine(p)
		defer e.Close()

		for _, path := range []string{"/declared", "/streamed"} {
			_, err := e.Execute(context.Background(), NewRequest("GET", server.URL+path), TaskID(path))

			require.ErrorIs(t, err, ErrResponseTooLarge, path)
			var te *Error
			require.True(t, errors.As(err, &te))
			assert.Equal(t, int64(1024), te.Limit)
		}
		assert.Empty(t, dirEntries(t, dir), "partial spill files are removed")
	})
}

func TestEngine_HeadIgnoresDeclaredLength(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "4096")
			if r.Method != http.MethodHead {
				_, _ = w.Write(bytes.Repeat([]byte("x"), 4096))
			}
		}))
		defer server.Close()

		p, _ := testPolicy(t)
		p.MaxResponseSize = 1024
		e := newEngine(p)
		defer e.Close()

		resp, err := e.Execute(context.Background(), NewRequest("HEAD", server.URL), "head")
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "4096", resp.Headers["Content-Length"])
		assert.Zero(t, resp.Size)

		_, err = e.Execute(context.Background(), NewRequest("GET", server.URL), "get")
		assert.ErrorIs(t, err, ErrResponseTooLarge)
	})
}

func TestEngine_HeaderNamesAreCanonical(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header()["x-request-ID"] = []string{"abc"}
		}))
		defer server.Close()

		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		resp, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "canon")
		require.NoError(t, err)
		assert.Equal(t, "abc", resp.Headers["X-Request-Id"])
		assert.NotContains(t, resp.Headers, "x-request-ID")
	})
}

func TestEngine_Redirects(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/final":
				_, _ = w.Write([]byte("final"))
			case "/loop":
				http.Redirect(w, r, "/loop", http.StatusFound)
			default:
				http.Redirect(w, r, "/final", http.StatusFound)
			}
		}))
		defer server.Close()

		p, _ := testPolicy(t)
		p.MaxRedirects = 3
		e := newEngine(p)
		defer e.Close()

		resp, err := e.Execute(context.Background(), NewRequest("GET", server.URL+"/start"), "follow")
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "final", resp.BodyString())

		_, err = e.Execute(context.Background(), NewRequest("GET", server.URL+"/loop"), "loop")
		assert.ErrorIs(t, err, ErrNetwork)

		p.MaxRedirects = 0
		noFollow := newEngine(p)
		defer noFollow.Close()
		resp, err = noFollow.Execute(context.Background(), NewRequest("GET", server.URL+"/start"), "stay")
		require.NoError(t, err)
		assert.Equal(t, 302, resp.StatusCode)
	})
}

func TestEngine_TLS(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("secure"))
		}))
		defer server.Close()

		t.Run("trusted bundle", func(t *testing.T) {
			p, _ := testPolicy(t)
			p.CABundlePath = writeServerCA(t, server)
			e := newEngine(p)
			defer e.Close()

			resp, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "tls")
			require.NoError(t, err)
			assert.Equal(t, "secure", resp.BodyString())
			assert.Greater(t, resp.Timing.Total, time.Duration(0))
		})

		t.Run("no bundle fails closed", func(t *testing.T) {
			p, _ := testPolicy(t)
			e := newEngine(p)
			defer e.Close()

			_, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "tls")
			assert.ErrorIs(t, err, ErrNetwork)
			assert.ErrorIs(t, err, errNoTrustStore)
		})

		t.Run("untrusted bundle", func(t *testing.T) {
			p, _ := testPolicy(t)
			p.CABundlePath = writeUnrelatedCA(t)
			e := newEngine(p)
			defer e.Close()

			_, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "tls")
			assert.ErrorIs(t, err, ErrNetwork)
		})
	})
}

func TestEngine_InvalidURL(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		for _, raw := range []string{"ftp://example.com", "not a url", "http://"} {
			_, err := e.Execute(context.Background(), NewRequest("GET", raw), "bad")
			assert.ErrorIs(t, err, ErrInvalidURL, raw)
		}
		_, err := e.Execute(context.Background(), nil, "nil")
		assert.ErrorIs(t, err, ErrInvalidURL)
		assert.Equal(t, 0, e.InFlight())
	})
}

func TestEngine_ConnectionRefused(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(http.NotFoundHandler())
		addr := server.URL
		server.Close()

		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		_, err := e.Execute(context.Background(), NewRequest("GET", addr), "refused")
		assert.ErrorIs(t, err, ErrNetwork)
		assert.True(t, IsRetryable(err))
	})
}

func TestEngine_DuplicateTaskID(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		server := httptest.NewServer(slowHandler(5 * time.Second))
		defer server.Close()

		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		errc := make(chan error, 1)
		go func() {
			_, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "dup")
			errc <- err
		}()
		require.Eventually(t, func() bool { return e.InFlight() == 1 }, 2*time.Second, 5*time.Millisecond)

		_, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "dup")
		assert.ErrorIs(t, err, errDuplicateTask)

		e.Cancel("dup")
		assert.ErrorIs(t, <-errc, ErrCancelled)
	})
}

func TestEngine_CancelUnknownTask(t *testing.T) {
	forEachEngine(t, func(t *testing.T, newEngine func(Policy) *Engine) {
		p, _ := testPolicy(t)
		e := newEngine(p)
		defer e.Close()

		assert.NotPanics(t, func() {
			e.Cancel("missing")
			e.Cancel("missing")
		})
	})
}

func TestEngine_ConcurrentRequestsRunInParallel(t *testing.T) {
	const n = 50
	const delay = 300 * time.Millisecond

	server := httptest.NewServer(slowHandler(delay))
	defer server.Close()

	p, _ := testPolicy(t)
	e := New(WithPolicy(p), WithConcurrency(n))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Execute(context.Background(), NewRequest("GET", server.URL), TaskID(strconv.Itoa(i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Less(t, elapsed, 10*delay, "transfers were serialized")
}

func TestEngine_PoolWaitHonorsCancellation(t *testing.T) {
	server := httptest.NewServer(slowHandler(5 * time.Second))
	defer server.Close()

	p, _ := testPolicy(t)
	e := New(WithPolicy(p), WithConcurrency(1))

	go func() {
		_, _ = e.Execute(context.Background(), NewRequest("GET", server.URL), "holder")
	}()
	require.Eventually(t, func() bool { return e.InFlight() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, NewRequest("GET", server.URL), "waiter")
	assert.ErrorIs(t, err, ErrCancelled)

	e.Cancel("holder")
	require.Eventually(t, func() bool { return e.InFlight() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_MixedLoadLeavesNothingBehind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/big":
			_, _ = w.Write(bytes.Repeat([]byte("b"), 4096))
		case "/slow":
			slowHandler(5*time.Second)(w, r)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer server.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	refusedURL := closed.URL
	closed.Close()

	p, dir := testPolicy(t)
	p.MemoryThreshold = 1024
	e := New(WithPolicy(p))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var spilled []*Response
	for i := 0; i < 100; i++ {
		id := TaskID(fmt.Sprintf("task-%d", i))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 5 {
			case 0:
				resp, err := e.Execute(context.Background(), NewRequest("GET", server.URL+"/ok"), id)
				assert.NoError(t, err)
				assert.False(t, resp.IsSpilled())
			case 1:
				resp, err := e.Execute(context.Background(), NewRequest("GET", server.URL+"/big"), id)
				if assert.NoError(t, err) {
					mu.Lock()
					spilled = append(spilled, resp)
					mu.Unlock()
				}
			case 2:
				_, err := e.Execute(context.Background(), NewRequest("GET", refusedURL), id)
				assert.ErrorIs(t, err, ErrNetwork)
			case 3:
				ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				defer cancel()
				_, err := e.Execute(ctx, NewRequest("GET", server.URL+"/slow"), id)
				assert.ErrorIs(t, err, ErrCancelled)
			case 4:
				time.AfterFunc(50*time.Millisecond, func() { e.Cancel(id) })
				_, err := e.Execute(context.Background(), NewRequest("GET", server.URL+"/slow"), id)
				assert.ErrorIs(t, err, ErrCancelled)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, e.InFlight())
	assert.Equal(t, 0, native.LiveUserdata())
	assert.Len(t, dirEntries(t, dir), len(spilled), "only handed-off spill files remain")
	for _, resp := range spilled {
		require.NoError(t, resp.Remove())
	}
	assert.Empty(t, dirEntries(t, dir))
}

func TestEngine_FallsBackWhenNativeInitFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("via fallback"))
	}))
	defer server.Close()

	calls := 0
	e := New(WithNativeInit(func() error {
		calls++
		return errors.New("no transport")
	}))
	defer e.Close()

	assert.Equal(t, BackendFallback, e.Backend())
	assert.ErrorIs(t, e.InitError(), ErrEngineInit)

	for i := 0; i < 3; i++ {
		resp, err := e.Execute(context.Background(), NewRequest("GET", server.URL), TaskID(strconv.Itoa(i)))
		require.NoError(t, err)
		assert.Equal(t, "via fallback", resp.BodyString())
		assert.Equal(t, BackendFallback, resp.Backend)
	}
	assert.Equal(t, 1, calls, "initialization is checked once per engine")
}

func TestEngine_NativeBackendByDefault(t *testing.T) {
	e := New()
	assert.Equal(t, BackendNative, e.Backend())
	assert.NoError(t, e.InitError())
	assert.Equal(t, DefaultMemoryThreshold, e.Policy().MemoryThreshold)
}

func TestEngine_Metrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p, _ := testPolicy(t)
	e := New(WithPolicy(p), WithMetrics(m))

	_, err := e.Execute(context.Background(), NewRequest("GET", server.URL), "ok")
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), NewRequest("GET", "ftp://example.com"), "bad")
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransfersTotal.WithLabelValues("native", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransfersTotal.WithLabelValues("native", "invalid_url")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.ReceivedBytes))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InFlight))
}
