package invoice

import (
	"errors"
	"io/fs"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DirArchive", func() {
	var (
		dir     string
		archive Archive
	)

	BeforeEach(func() {
		dir = filepath.Join(GinkgoT().TempDir(), "archive")
		var err error
		archive, err = NewDirArchive(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Put", func() {
		It("should write the file into the directory", func() {
			name, err := archive.Put("doc-1_invoice.pdf", []byte("%PDF"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("doc-1_invoice.pdf"))
			Expect(filepath.Join(dir, "doc-1_invoice.pdf")).To(BeAnExistingFile())
		})

		It("returns the error for names outside the directory", func() {
			_, err := archive.Put("../escape.pdf", []byte("%PDF"))
			Expect(err).To(MatchError(`invalid archive name "../escape.pdf"`))
		})
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := archive.Put("a.txt", []byte("Invoice Number: INV-1"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return its content", func() {
				data, err := archive.Get("a.txt")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("Invoice Number: INV-1"))
			})
		})

		When("the file does not exist", func() {
			It("returns the error", func() {
				_, err := archive.Get("missing.txt")
				Expect(err).To(MatchError(ContainSubstring("reading file")))
				Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())
			})
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			_, err := archive.Put("a.txt", []byte("x"))
			Expect(err).NotTo(HaveOccurred())

			Expect(archive.Delete("a.txt")).To(Succeed())
			Expect(filepath.Join(dir, "a.txt")).NotTo(BeAnExistingFile())
		})

		It("returns the error for a missing file", func() {
			Expect(archive.Delete("missing.txt")).To(MatchError(ContainSubstring("deleting file")))
		})
	})
})
