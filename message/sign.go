package message

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/VolantMQ/zbus/protocol"
)

type signPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// canonical form of message as the receiver decodes it
func canonical(m *Message) ([]byte, error) {
	p := &signPayload{
		Status:  m.Status,
		Headers: make(map[string]string, len(m.Headers)),
		Body:    string(m.Body),
	}

	if m.Status == 0 {
		p.Method, p.URL = requestLine(m)
	}

	for k, v := range m.Headers {
		k = strings.ToLower(k)
		if k == protocol.HeaderSignature || k == protocol.HeaderContentLength {
			continue
		}
		p.Headers[k] = strings.TrimSpace(v)
	}

	// map keys are serialized in sorted order
	return json.Marshal(p)
}

func digest(secretKey string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign set apikey and signature headers
func Sign(apiKey, secretKey string, m *Message) error {
	m.RemoveHeader(protocol.HeaderSignature)
	m.SetHeader(protocol.HeaderAPIKey, apiKey)

	data, err := canonical(m)
	if err != nil {
		return err
	}

	m.SetHeader(protocol.HeaderSignature, digest(secretKey, data))

	return nil
}

// Verify check signature header against secretKey
func Verify(secretKey string, m *Message) bool {
	sign := m.Header(protocol.HeaderSignature)
	if len(sign) == 0 {
		return false
	}

	data, err := canonical(m)
	if err != nil {
		return false
	}

	return hmac.Equal([]byte(sign), []byte(digest(secretKey, data)))
}
