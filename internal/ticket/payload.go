// Package ticket implements the daily meal-ticket workflow: building QR
// payloads for eligible students and redeeming them exactly once per civil
// day at scan time.
package ticket

import (
	"encoding/json"
	"strings"

	appErrors "github.com/sungwoon-dev/mealpass/pkg/errors"
)

// nonceBytes is the entropy behind each ticket nonce. The nonce only makes
// payload content vary between generations; replay protection rests on the
// dinner-used flag, not on nonce tracking.
const nonceBytes = 16

// Payload is the QR wire format. All five fields are required; the name and
// class are operator-facing confirmation only and never authoritative.
type Payload struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	ClassInfo string `json:"classInfo"`
	Date      string `json:"date"`
	Nonce     string `json:"nonce"`
}

// Encode renders the payload as the JSON bytes embedded in the QR code.
func (p Payload) Encode() ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

func (p Payload) validate() error {
	for _, field := range []string{p.Email, p.Name, p.ClassInfo, p.Date, p.Nonce} {
		if strings.TrimSpace(field) == "" {
			return appErrors.ErrTicketInvalidFormat
		}
	}
	return nil
}

// ParsePayload decodes scanned QR text. Malformed JSON or any missing/blank
// field yields ErrTicketInvalidFormat.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, appErrors.ErrTicketInvalidFormat.WithInternal(err)
	}
	if err := p.validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
