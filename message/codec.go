package message

import (
	"bufio"
	"bytes"
	"io"
	"io/ioutil"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/VolantMQ/zbus/protocol"
)

const httpVersion = "HTTP/1.1"

// ErrMalformed message could not be parsed
var ErrMalformed = errors.New("message: malformed")

// Encode write message in http-like format
// content-length is always derived from body
func Encode(w io.Writer, m *Message) error {
	bw := bufio.NewWriter(w)

	if m.Status != 0 {
		text := http.StatusText(m.Status)
		if len(text) == 0 {
			text = "Unknown Status"
		}
		bw.WriteString(httpVersion + " " + strconv.Itoa(m.Status) + " " + text + "\r\n")
	} else {
		method, url := requestLine(m)
		bw.WriteString(method + " " + url + " " + httpVersion + "\r\n")
	}

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		if strings.ToLower(k) == protocol.HeaderContentLength {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		bw.WriteString(k + ": " + m.Headers[k] + "\r\n")
	}

	bw.WriteString(protocol.HeaderContentLength + ": " + strconv.Itoa(len(m.Body)) + "\r\n\r\n")

	if len(m.Body) > 0 {
		bw.Write(m.Body)
	}

	return bw.Flush()
}

// requestLine method and url as written on the wire
func requestLine(m *Message) (string, string) {
	method := m.Method
	if len(method) == 0 {
		method = "GET"
	}

	url := m.URL
	if len(url) == 0 {
		url = "/"
	}

	return method, url
}

// Marshal encode message into byte slice
func Marshal(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Reader decode stream of messages
type Reader struct {
	br *bufio.Reader
	tr *textproto.Reader
}

// NewReader wraps r with buffered reader
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	return &Reader{
		br: br,
		tr: textproto.NewReader(br),
	}
}

// ReadMessage read next message
// header keys are lower-cased
func (r *Reader) ReadMessage() (*Message, error) {
	line, err := r.tr.ReadLine()
	if err != nil {
		return nil, err
	}

	m := &Message{
		Headers: make(map[string]string),
	}

	blocks := strings.SplitN(line, " ", 3)
	if len(blocks) < 2 {
		return nil, errors.Wrapf(ErrMalformed, "start line %q", line)
	}

	if strings.HasPrefix(strings.ToUpper(blocks[0]), "HTTP") {
		if m.Status, err = strconv.Atoi(blocks[1]); err != nil {
			return nil, errors.Wrapf(ErrMalformed, "status %q", blocks[1])
		}
	} else {
		m.Method = blocks[0]
		m.URL = blocks[1]
	}

	for {
		line, err = r.tr.ReadLine()
		if err != nil {
			return nil, noEOF(err)
		}

		if len(line) == 0 {
			break
		}

		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, errors.Wrapf(ErrMalformed, "header line %q", line)
		}

		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		m.Headers[key] = strings.TrimSpace(line[idx+1:])
	}

	if s, ok := m.Headers[protocol.HeaderContentLength]; ok {
		size, err := strconv.Atoi(s)
		if err != nil || size < 0 {
			return nil, errors.Wrapf(ErrMalformed, "content-length %q", s)
		}

		if size > 0 {
			m.Body = make([]byte, size)
			if _, err = io.ReadFull(r.br, m.Body); err != nil {
				return nil, noEOF(err)
			}
		}
	}

	return m, nil
}

// Unmarshal decode single message from data
func Unmarshal(data []byte) (*Message, error) {
	m, err := NewReader(bytes.NewReader(data)).ReadMessage()
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ReadAll decode every message in r until EOF
func ReadAll(r io.Reader) ([]*Message, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}

	rd := NewReader(bytes.NewReader(data))

	var res []*Message
	for {
		m, err := rd.ReadMessage()
		if err == io.EOF {
			return res, nil
		} else if err != nil {
			return res, err
		}
		res = append(res, m)
	}
}

// message truncated in the middle
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}

	return err
}
