package cv

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/nugget/resume-interviewer/internal/profile"
	"github.com/nugget/resume-interviewer/internal/validate"
)

// QRSize is the edge length in pixels of generated QR codes.
const QRSize = 256

var md = goldmark.New(
	goldmark.WithRendererOptions(
		// Rendered resumes carry <b> markup and one entry per line.
		html.WithUnsafe(),
		html.WithHardWraps(),
	),
)

// HTML renders Markdown output as a standalone HTML document.
func HTML(text string) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(text), &body); err != nil {
		return nil, fmt.Errorf("render resume: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Резюме</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
`)
	buf.Write(body.Bytes())
	buf.WriteString("</body></html>\n")
	return buf.Bytes(), nil
}

// Card builds a vCard 4.0 contact from the profile's personal fields
// and its first work record.
func Card(p *profile.Profile) vcard.Card {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldVersion, "4.0")
	card.SetValue(vcard.FieldUID, "urn:uuid:"+p.ID)

	first := p.ScalarString("first_name")
	middle := p.ScalarString("middle_name")
	last := p.ScalarString("last_name")
	card.SetName(&vcard.Name{
		GivenName:      first,
		AdditionalName: middle,
		FamilyName:     last,
	})

	fn := joinNonEmpty(first, middle, last)
	if fn == "" {
		fn = p.Subject
	}
	card.SetValue(vcard.FieldFormattedName, fn)

	if phone := p.ScalarString("phone"); phone != "" {
		card.AddValue(vcard.FieldTelephone, phone)
	}
	if email := p.ScalarString("email"); email != "" {
		card.AddValue(vcard.FieldEmail, email)
	}
	if bday, ok := validate.ParseDate(p.ScalarString("birth_date")); ok {
		card.SetValue(vcard.FieldBirthday, bday.Format("20060102"))
	}

	if recs := p.Records("work_experience"); len(recs) > 0 {
		job := recs[0].Fields
		if v := job["exp_company"]; !profile.IsEmpty(v) {
			card.SetValue(vcard.FieldOrganization, fmt.Sprint(v))
		}
		if v := job["exp_position"]; !profile.IsEmpty(v) {
			card.SetValue(vcard.FieldTitle, fmt.Sprint(v))
		}
	}
	return card
}

// VCard encodes the profile's contact card.
func VCard(p *profile.Profile) ([]byte, error) {
	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(Card(p)); err != nil {
		return nil, fmt.Errorf("encode vcard: %w", err)
	}
	return buf.Bytes(), nil
}

// QR returns a PNG QR code holding the profile's vCard.
func QR(p *profile.Profile) ([]byte, error) {
	card, err := VCard(p)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(string(card), qrcode.Medium, QRSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
