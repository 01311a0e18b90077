package document

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Email is the part of an email container the invoice pipeline needs
type Email struct {
	Sender      string
	Recipient   string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Attachment is a decoded MIME part carrying a file
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ParseEmail reads an RFC 5322 message and collects its first plain text
// body and its file attachments.
func ParseEmail(r io.Reader) (*Email, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		subject = msg.Header.Get("Subject")
	}

	email := &Email{
		Sender:    firstAddress(msg.Header, "From"),
		Recipient: firstAddress(msg.Header, "To"),
		Subject:   subject,
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	if err := email.walk(contentType, msg.Header.Get("Content-Transfer-Encoding"), "", msg.Body); err != nil {
		return nil, err
	}

	return email, nil
}

// PDFAttachment returns the first attachment that is a PDF, by content type
// or by extension. The returned attachment always reports application/pdf.
func (e *Email) PDFAttachment() (Attachment, bool) {
	for _, a := range e.Attachments {
		if NormalizeContentType(a.ContentType) == "application/pdf" || ContentTypeFromFilename(a.Filename) == "application/pdf" {
			a.ContentType = "application/pdf"
			return a, true
		}
	}
	return Attachment{}, false
}

// InvoiceDocument returns the first PDF attachment, or the text body when
// the message has no PDF attached.
func (e *Email) InvoiceDocument() (Attachment, bool) {
	if a, ok := e.PDFAttachment(); ok {
		return a, true
	}
	if strings.TrimSpace(e.Body) != "" {
		return Attachment{Filename: "body.txt", ContentType: "text/plain", Data: []byte(e.Body)}, true
	}
	return Attachment{}, false
}

func firstAddress(h mail.Header, key string) string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return strings.TrimSpace(h.Get(key))
	}
	return list[0].Address
}

func (e *Email) walk(contentType, encoding, filename string, body io.Reader) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "application/octet-stream"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading multipart: %w", err)
			}
			name := part.FileName()
			if name == "" {
				_, partParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
				name = partParams["name"]
			}
			partType := part.Header.Get("Content-Type")
			if partType == "" {
				partType = "text/plain"
			}
			if err := e.walk(partType, part.Header.Get("Content-Transfer-Encoding"), name, part); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		return fmt.Errorf("decoding %s part: %w", mediaType, err)
	}

	if filename == "" && strings.HasPrefix(mediaType, "text/") {
		if mediaType == "text/plain" && e.Body == "" {
			e.Body = string(data)
		}
		return nil
	}
	if filename == "" {
		filename = "attachment"
	}

	e.Attachments = append(e.Attachments, Attachment{
		Filename:    filename,
		ContentType: mediaType,
		Data:        data,
	})
	return nil
}

// decodeTransfer undoes a Content-Transfer-Encoding. Parts read through
// multipart.Reader arrive with quoted-printable already decoded and the
// header removed.
func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}
