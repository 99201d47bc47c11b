package handler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/streamgate/api"
	"github.com/ddevcap/streamgate/api/handler"
	"github.com/ddevcap/streamgate/config"
	"github.com/ddevcap/streamgate/crypto"
	"github.com/ddevcap/streamgate/hls"
	"github.com/ddevcap/streamgate/token"
)

// backend builds a backend router with an inert HLS manager.
func backend(cfg config.Config) (http.Handler, *handler.Stores) {
	stores := handler.NewStores(cfg)
	manager := hls.NewManager(hls.Config{Root: GinkgoT().TempDir()})
	streamer := handler.NewStreamer(cfg, stores)
	return api.NewBackendRouter(cfg, streamer, handler.NewHLS(manager, stores.HLSSources)), stores
}

// seal mints a sign query value for a token.
func seal(t token.Token) string {
	sealed, err := crypto.Encrypt(t.ToMap(), testKey, testIV)
	Expect(err).NotTo(HaveOccurred())
	return sealed
}

// streamURL builds the backend stream URL for a sealed token.
func streamURL(sign string, extra string) string {
	u := "/stream?sign=" + urlQueryEscape(sign)
	if extra != "" {
		u += "&" + extra
	}
	return u
}

var _ = Describe("Streamer", func() {
	Describe("token verification", func() {
		It("rejects a missing sign", func() {
			r, _ := backend(testConfig())
			Expect(doReq(r, http.MethodGet, "/stream", nil).Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a sign that does not decrypt", func() {
			r, _ := backend(testConfig())
			Expect(doReq(r, http.MethodGet, "/stream?sign=bm90LWEtdG9rZW4=", nil).Code).
				To(Equal(http.StatusBadRequest))
		})

		It("rejects a token past its grace window", func() {
			r, _ := backend(testConfig())
			expired := token.Token{
				URI:       "https://origin.example/movie.mkv",
				ExpiredAt: uint64(time.Now().Unix()) - 301,
			}
			w := doReq(r, http.MethodGet, streamURL(seal(expired), ""), nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("serves a token that expired within the grace window", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "f.mp4")
			Expect(os.WriteFile(path, []byte("media-bytes"), 0o644)).To(Succeed())

			r, _ := backend(testConfig())
			graced := token.Token{
				URI:       "file://" + path,
				ExpiredAt: uint64(time.Now().Unix()) - 299,
			}
			w := doReq(r, http.MethodGet, streamURL(seal(graced), ""), nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(Equal("media-bytes"))
		})
	})

	Describe("local files", func() {
		var path string
		var content []byte

		BeforeEach(func() {
			content = make([]byte, 100*1024)
			for i := range content {
				content[i] = byte(i % 251)
			}
			path = filepath.Join(GinkgoT().TempDir(), "movie.mp4")
			Expect(os.WriteFile(path, content, 0o644)).To(Succeed())
		})

		localSign := func() string {
			return seal(token.NewLocal(path, 3600, time.Now()))
		}

		It("serves an explicit byte range with 206", func() {
			r, _ := backend(testConfig())
			w := doReq(r, http.MethodGet, streamURL(localSign(), ""), func(req *http.Request) {
				req.Header.Set("Range", "bytes=0-1023")
			})
			Expect(w.Code).To(Equal(http.StatusPartialContent))
			Expect(w.Header().Get("Content-Range")).To(Equal(fmt.Sprintf("bytes 0-1023/%d", len(content))))
			Expect(w.Header().Get("Content-Length")).To(Equal("1024"))
			Expect(w.Header().Get("Accept-Ranges")).To(Equal("bytes"))
			Expect(w.Body.Bytes()).To(Equal(content[:1024]))
		})

		It("resolves an open-ended range to the end of the file", func() {
			r, _ := backend(testConfig())
			w := doReq(r, http.MethodGet, streamURL(localSign(), ""), func(req *http.Request) {
				req.Header.Set("Range", "bytes=5000-")
			})
			Expect(w.Code).To(Equal(http.StatusPartialContent))
			Expect(w.Header().Get("Content-Range")).
				To(Equal(fmt.Sprintf("bytes 5000-%d/%d", len(content)-1, len(content))))
			Expect(w.Body.Bytes()).To(Equal(content[5000:]))
		})

		It("serves the whole file without a Range header", func() {
			r, _ := backend(testConfig())
			w := doReq(r, http.MethodGet, streamURL(localSign(), ""), nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.Bytes()).To(Equal(content))
		})

		DescribeTable("rejects unsatisfiable ranges",
			func(rangeHeader string) {
				r, _ := backend(testConfig())
				w := doReq(r, http.MethodGet, streamURL(localSign(), ""), func(req *http.Request) {
					req.Header.Set("Range", rangeHeader)
				})
				Expect(w.Code).To(Equal(http.StatusRequestedRangeNotSatisfiable))
				Expect(w.Header().Get("Content-Range")).To(Equal(fmt.Sprintf("bytes */%d", 100*1024)))
			},
			Entry("start past the file", "bytes=200000-"),
			Entry("start after end", "bytes=500-100"),
			Entry("malformed", "bytes=abc-def"),
		)

		It("answers 404 when the signed file disappeared", func() {
			r, _ := backend(testConfig())
			gone := seal(token.NewLocal(filepath.Join(GinkgoT().TempDir(), "gone.mp4"), 3600, time.Now()))
			w := doReq(r, http.MethodGet, streamURL(gone, ""), nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("remote proxying", func() {
		It("rejects proxy requests without a Range header", func() {
			r, _ := backend(testConfig())
			remote := seal(token.New("https://origin.example/movie.mkv", 3600, time.Now()))
			w := doReq(r, http.MethodGet, streamURL(remote, ""), nil)
			Expect(w.Code).To(Equal(http.StatusForbidden))
		})

		It("forwards the range and preserves origin status and headers", func() {
			var gotRange, gotCarried string
			origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotRange = r.Header.Get("Range")
				gotCarried = r.Header.Get("X-Forwarded-For-Test")
				w.Header().Set("X-Origin", "yes")
				w.Header().Set("Content-Range", "bytes 0-1023/4096")
				w.WriteHeader(http.StatusPartialContent)
				_, _ = w.Write(make([]byte, 1024))
			}))
			defer origin.Close()

			r, _ := backend(testConfig())
			remote := seal(token.New(origin.URL+"/movie.mkv", 3600, time.Now()))
			w := doReq(r, http.MethodGet, streamURL(remote, ""), func(req *http.Request) {
				req.Header.Set("Range", "bytes=0-1023")
				req.Header.Set("X-Forwarded-For-Test", "carried")
			})
			Expect(w.Code).To(Equal(http.StatusPartialContent))
			Expect(w.Header().Get("X-Origin")).To(Equal("yes"))
			Expect(w.Header().Get("Content-Range")).To(Equal("bytes 0-1023/4096"))
			Expect(w.Body.Len()).To(Equal(1024))
			Expect(gotRange).To(Equal("bytes=0-1023"))
			Expect(gotCarried).To(Equal("carried"))
		})

		It("injects the configured user agent upstream", func() {
			var gotUA string
			origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUA = r.Header.Get("User-Agent")
				w.WriteHeader(http.StatusPartialContent)
			}))
			defer origin.Close()

			cfg := testConfig()
			cfg.ProxyUserAgent = "streamgate-fetch/1.0"
			r, _ := backend(cfg)
			remote := seal(token.New(origin.URL, 3600, time.Now()))
			doReq(r, http.MethodGet, streamURL(remote, ""), func(req *http.Request) {
				req.Header.Set("Range", "bytes=0-")
			})
			Expect(gotUA).To(Equal("streamgate-fetch/1.0"))
		})

		It("answers 502 when the origin is unreachable", func() {
			r, _ := backend(testConfig())
			remote := seal(token.New("http://127.0.0.1:1/movie.mkv", 3600, time.Now()))
			w := doReq(r, http.MethodGet, streamURL(remote, ""), func(req *http.Request) {
				req.Header.Set("Range", "bytes=0-")
			})
			Expect(w.Code).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("redirect mode", func() {
		It("302s to the origin with Host stripped", func() {
			r, _ := backend(testConfig())
			remote := seal(token.New("https://origin.example/movie.mkv?sig=abc", 3600, time.Now()))
			w := doReq(r, http.MethodGet, streamURL(remote, "proxy_mode=redirect"), func(req *http.Request) {
				req.Header.Set("Range", "bytes=0-")
			})
			Expect(w.Code).To(Equal(http.StatusFound))
			Expect(w.Header().Get("Location")).To(Equal("https://origin.example/movie.mkv?sig=abc"))
			Expect(w.Header().Values("Host")).To(BeEmpty())
			Expect(w.Header().Get("Range")).To(Equal("bytes=0-"))
		})

		It("substitutes the configured user agent in the carried headers", func() {
			cfg := testConfig()
			cfg.ProxyUserAgent = "streamgate-fetch/1.0"
			r, _ := backend(cfg)
			remote := seal(token.New("https://origin.example/movie.mkv", 3600, time.Now()))
			w := doReq(r, http.MethodGet, streamURL(remote, "proxy_mode=redirect"), nil)
			Expect(w.Code).To(Equal(http.StatusFound))
			Expect(w.Header().Get("User-Agent")).To(Equal("streamgate-fetch/1.0"))
		})
	})

	Describe("decrypt caching", func() {
		It("decodes a sign once and reuses it", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "f.mp4")
			Expect(os.WriteFile(path, []byte("x"), 0o644)).To(Succeed())

			r, stores := backend(testConfig())
			sign := seal(token.NewLocal(path, 3600, time.Now()))

			Expect(doReq(r, http.MethodGet, streamURL(sign, ""), nil).Code).To(Equal(http.StatusOK))
			Expect(stores.Opened.Len()).To(Equal(1))
			Expect(doReq(r, http.MethodGet, streamURL(sign, ""), nil).Code).To(Equal(http.StatusOK))
			Expect(stores.Opened.Len()).To(Equal(1))
		})
	})
})
