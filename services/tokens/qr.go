package tokens

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"

	"messmate/pkg/apperr"
	"messmate/services/store"
)

// qrSize is the edge length of generated QR images in pixels.
const qrSize = 256

// Payload is the JSON document encoded in a token's QR code and decoded by
// the producer's scanner.
type Payload struct {
	UserEmail   string           `json:"userEmail"`
	UserName    string           `json:"userName"`
	Token       string           `json:"token"`
	Meals       []store.LineItem `json:"meals"`
	TotalAmount float64          `json:"totalAmount"`
	Date        string           `json:"date"`
}

// PayloadFor builds the scan payload of t.
func PayloadFor(t *store.Token) Payload {
	return Payload{
		UserEmail:   t.UserEmail,
		UserName:    t.UserName,
		Token:       t.Token,
		Meals:       []store.LineItem(t.Meals),
		TotalAmount: t.TotalAmount,
		Date:        t.Day,
	}
}

// Encode renders p as the string stored in the QR code.
func (p Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseScan decodes a scanned QR string.
func ParseScan(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return Payload{}, apperr.Wrap(apperr.Validation, err, "invalid QR payload")
	}
	p.UserEmail = store.NormalizeEmail(p.UserEmail)
	if p.UserEmail == "" {
		return Payload{}, apperr.Validationf("QR payload is missing userEmail")
	}
	if len(p.Meals) == 0 {
		return Payload{}, apperr.Validationf("QR payload has no meals")
	}
	return p, nil
}

// QRCode renders content as a PNG data URL.
func QRCode(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
