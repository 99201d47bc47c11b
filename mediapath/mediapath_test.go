package mediapath_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/streamgate/mediapath"
)

var _ = Describe("Rewriter", func() {
	It("applies the substitution when the pattern matches", func() {
		r := mediapath.NewRewriter(`^/mnt/nas`, "/media")
		Expect(r.Rewrite("/mnt/nas/movies/f.mkv")).To(Equal("/media/movies/f.mkv"))
	})

	It("supports capture group references", func() {
		r := mediapath.NewRewriter(`^smb://[^/]+/(.*)$`, "/mnt/$1")
		Expect(r.Rewrite("smb://nas/movies/f.mkv")).To(Equal("/mnt/movies/f.mkv"))
	})

	It("passes non-matching paths through", func() {
		r := mediapath.NewRewriter(`^/mnt/nas`, "/media")
		Expect(r.Rewrite("/srv/movies/f.mkv")).To(Equal("/srv/movies/f.mkv"))
	})

	It("passes everything through on an empty pattern", func() {
		r := mediapath.NewRewriter("", "/media")
		Expect(r.Rewrite("/mnt/nas/f.mkv")).To(Equal("/mnt/nas/f.mkv"))
	})

	It("never fails a request on a pattern that does not compile", func() {
		r := mediapath.NewRewriter(`([`, "/media")
		Expect(r.Rewrite("/mnt/nas/f.mkv")).To(Equal("/mnt/nas/f.mkv"))
	})
})

var _ = Describe("STRM indirection", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	writeStrm := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	It("detects strm files by suffix", func() {
		Expect(mediapath.IsStrm("/media/f.strm")).To(BeTrue())
		Expect(mediapath.IsStrm("/media/f.mkv")).To(BeFalse())
	})

	It("returns the trimmed contents", func() {
		path := writeStrm("f.strm", " https://cdn/x.mkv\n ")
		target, err := mediapath.ReadStrm(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(target).To(Equal("https://cdn/x.mkv"))
	})

	It("rejects empty files", func() {
		path := writeStrm("empty.strm", "")
		_, err := mediapath.ReadStrm(path)
		Expect(err).To(MatchError(mediapath.ErrEmptyStrmFile))
	})

	It("rejects oversized files", func() {
		path := writeStrm("big.strm", strings.Repeat("x", mediapath.MaxStrmFileSize+1))
		_, err := mediapath.ReadStrm(path)
		Expect(err).To(MatchError(mediapath.ErrStrmFileTooLarge))
	})

	It("propagates stat failures", func() {
		_, err := mediapath.ReadStrm(filepath.Join(dir, "missing.strm"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("CanonicalLocal", func() {
	It("returns a cleaned absolute path for an existing file", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "f.mkv")
		Expect(os.WriteFile(path, []byte("x"), 0o644)).To(Succeed())

		abs, err := mediapath.CanonicalLocal(dir+"/./f.mkv", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(abs).To(Equal(path))
	})

	It("reports missing files with a typed error", func() {
		_, err := mediapath.CanonicalLocal("/definitely/not/here.mkv", true)
		var notFound *mediapath.NotFoundError
		Expect(err).To(BeAssignableToTypeOf(notFound))
	})

	It("skips the existence check when told to", func() {
		abs, err := mediapath.CanonicalLocal("/definitely/not/here.mkv", false)
		Expect(err).NotTo(HaveOccurred())
		Expect(abs).To(Equal("/definitely/not/here.mkv"))
	})
})
