package cv

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nugget/resume-interviewer/internal/profile"
	"github.com/nugget/resume-interviewer/internal/schema"
)

// MessageOptions addresses a resume email.
type MessageOptions struct {
	// From is the sender address ("Name <addr@host>" or a bare address).
	From string
	// To is the list of recipient addresses.
	To []string
	// Subject defaults to "Резюме: <full name>".
	Subject string
}

// Message builds an RFC 5322 email carrying the rendered resume as
// text/plain and text/html alternatives with the vCard attached.
func Message(s *schema.Schema, p *profile.Profile, opts MessageOptions) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}

	subject := opts.Subject
	if subject == "" {
		name := joinNonEmpty(p.ScalarString("first_name"), p.ScalarString("last_name"))
		if name == "" {
			name = p.Subject
		}
		subject = "Резюме: " + name
	}
	h.SetSubject(subject)

	from, err := mail.ParseAddress(opts.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", opts.From, err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	if len(opts.To) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	to := make([]*mail.Address, 0, len(opts.To))
	for _, a := range opts.To {
		addr, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		to = append(to, addr)
	}
	h.SetAddressList("To", to)

	text := Markdown(s, p)
	page, err := HTML(text)
	if err != nil {
		return nil, err
	}
	card, err := VCard(p)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}
	if err := writeInline(tw, "text/plain; charset=utf-8", []byte(schema.PlainText(text))); err != nil {
		return nil, err
	}
	if err := writeInline(tw, "text/html; charset=utf-8", page); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", "text/vcard; charset=utf-8")
	ah.SetFilename("contact.vcf")
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}
	if _, err := aw.Write(card); err != nil {
		return nil, fmt.Errorf("write attachment: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("close attachment: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(tw *mail.InlineWriter, contentType string, body []byte) error {
	var ph mail.InlineHeader
	ph.Set("Content-Type", contentType)
	pw, err := tw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.Copy(pw, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close %s part: %w", contentType, err)
	}
	return nil
}
