package invoice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-ingest/internal/extraction"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		archive     *mockArchive
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewService(db, extraction.NewAssembler(), archive)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.Handler().ServeHTTP)
	}

	upload := func(filename string, data []byte) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/invoices", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeError := func(resp *http.Response) errorResponse {
		defer resp.Body.Close()
		var body errorResponse
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body
	}

	BeforeEach(func() {
		db = newMockDB()
		archive = newMockArchive()
		auth = BasicAuth{}
		ghttpServer = nil
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleUploadInvoice", func() {
		When("the document is a valid invoice", func() {
			It("should return status Created with the invoice", func() {
				resp := upload("invoice.txt", []byte(sampleText))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var inv Invoice
				Expect(json.NewDecoder(resp.Body).Decode(&inv)).To(Succeed())
				Expect(inv.ID).To(Equal(int64(1)))
				Expect(inv.InvoiceNumber).To(Equal("INV-100"))
				Expect(inv.Total.StringFixed(2)).To(Equal("33.00"))
			})
		})

		When("a required field is missing", func() {
			It("should return status Unprocessable Entity naming the field", func() {
				resp := upload("invoice.txt", []byte(strings.Replace(sampleText, "Supplier: Acme\n", "", 1)))
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(decodeError(resp).Fields).To(ConsistOf(extraction.FieldSupplier))
				Expect(db.saveCalls).To(BeZero())
			})
		})

		When("the document type has no text", func() {
			It("should return status Unsupported Media Type", func() {
				resp := upload("photo.png", []byte{0x89, 0x50, 0x4e, 0x47})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
			})
		})

		When("the store fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
			})

			It("should return status Internal Server Error", func() {
				resp := upload("invoice.txt", []byte(sampleText))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeError(resp).Error).To(Equal("Error saving invoice"))
			})

			It("should remove the archived document", func() {
				resp := upload("invoice.txt", []byte(sampleText))
				resp.Body.Close()
				Expect(archive.files).To(BeEmpty())
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("other", "value")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", writer.FormDataContentType(), body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).Error).To(Equal("No file provided"))
			})
		})

		When("the file is an email", func() {
			It("should store the invoice with the sender", func() {
				email := "From: billing@acme.example\r\n" +
					"To: ap@globex.example\r\n" +
					"Subject: Invoice INV-100\r\n" +
					"Content-Type: text/plain\r\n\r\n" +
					strings.ReplaceAll(sampleText, "\n", "\r\n") + "\r\n"

				resp := upload("invoice.eml", []byte(email))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(db.invoices).To(HaveLen(1))
				Expect(db.invoices[0].Sender).To(Equal("billing@acme.example"))
			})
		})
	})

	Describe("handleListInvoices", func() {
		When("invoices exist", func() {
			BeforeEach(func() {
				_, _ = db.SaveInvoice(context.Background(), testInvoice("INV-1"))
				_, _ = db.SaveInvoice(context.Background(), testInvoice("INV-2"))
			})

			It("should return all invoices", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var invoices []*Invoice
				Expect(json.NewDecoder(resp.Body).Decode(&invoices)).To(Succeed())
				Expect(invoices).To(HaveLen(2))
			})
		})

		When("no invoices exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})

		When("the store fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("boom")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleGetInvoice", func() {
		BeforeEach(func() {
			_, _ = db.SaveInvoice(context.Background(), testInvoice("INV-1"))
		})

		When("the invoice exists", func() {
			It("should return it", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/1")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var inv Invoice
				Expect(json.NewDecoder(resp.Body).Decode(&inv)).To(Succeed())
				Expect(inv.InvoiceNumber).To(Equal("INV-1"))
				Expect(inv.Items).To(HaveLen(1))
			})
		})

		When("the invoice does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/9")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the id is not a number", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/abc")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleGetInvoiceFile", func() {
		BeforeEach(func() {
			_, _ = db.SaveInvoice(context.Background(), testInvoice("INV-1"))
			archive.files["doc-1_invoice.pdf"] = []byte("%PDF-1.4")
		})

		It("should return the archived document with its content type", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/invoices/1/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("%PDF-1.4"))
		})

		When("the invoice does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/9/file")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the store fails", func() {
			BeforeEach(func() {
				db.getErr = errors.New("database is locked")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/1/file")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})

		When("the archive cannot be read", func() {
			BeforeEach(func() {
				archive.getErr = errors.New("permission denied")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/1/file")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})

		When("the document is gone", func() {
			BeforeEach(func() {
				delete(archive.files, "doc-1_invoice.pdf")
			})

			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/1/file")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleExport", func() {
		BeforeEach(func() {
			_, _ = db.SaveInvoice(context.Background(), testInvoice("INV-1"))
		})

		It("should return a workbook attachment", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/export.xlsx")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("invoices.xlsx"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body[:2]).To(Equal([]byte("PK")))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		When("no credentials are sent", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			})
		})

		When("the wrong password is sent", func() {
			It("should return status Unauthorized", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/invoices", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "wrong")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("valid credentials are sent", func() {
			It("should return status OK", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/invoices", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("CORS preflight", func() {
		It("should return status No Content with CORS headers", func() {
			req, err := http.NewRequest("OPTIONS", ghttpServer.URL()+"/api/invoices", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})

var _ = Describe("Serve", func() {
	var (
		mux     *http.ServeMux
		server  *Server
		ln      net.Listener
		ctx     context.Context
		cancel  context.CancelFunc
		served  chan error
		entered chan struct{}
		release chan struct{}
	)

	BeforeEach(func() {
		entered = make(chan struct{})
		release = make(chan struct{})
		mux = http.NewServeMux()
		mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
			close(entered)
			<-release
			w.Write([]byte("done"))
		})
		server = NewServerWithMux(NewService(newMockDB(), nil, newMockArchive()), BasicAuth{}, mux)

		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel = context.WithCancel(context.Background())
		served = make(chan error, 1)
		go func() {
			served <- server.Serve(ctx, ln)
		}()
	})

	AfterEach(func() {
		cancel()
	})

	It("should finish in-flight requests after the context is cancelled", func() {
		type result struct {
			body string
			err  error
		}
		results := make(chan result, 1)
		go func() {
			resp, err := http.Get("http://" + ln.Addr().String() + "/slow")
			if err != nil {
				results <- result{err: err}
				return
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			results <- result{body: string(body), err: err}
		}()

		Eventually(entered).Should(BeClosed())
		cancel()
		Consistently(served, "100ms").ShouldNot(Receive())
		close(release)

		var res result
		Eventually(results).Should(Receive(&res))
		Expect(res.err).NotTo(HaveOccurred())
		Expect(res.body).To(Equal("done"))
		Eventually(served).Should(Receive(BeNil()))
	})

	It("should stop accepting connections once cancelled", func() {
		cancel()
		Eventually(served).Should(Receive(BeNil()))

		_, err := http.Get("http://" + ln.Addr().String() + "/api/invoices")
		Expect(err).To(HaveOccurred())
	})
})
