package message

import (
	"strconv"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/VolantMQ/zbus/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message envelope shared by requests and responses
// Status == 0 means message is a request
type Message struct {
	URL     string
	Method  string
	Status  int
	Headers map[string]string
	Body    []byte
}

// New allocate request message with common headers set
func New() *Message {
	m := &Message{
		URL:     "/",
		Method:  "GET",
		Headers: make(map[string]string),
	}

	m.SetHeader(protocol.HeaderConnection, "Keep-Alive")
	m.SetHeader(protocol.HeaderVersion, protocol.VersionValue)

	return m
}

// NewID unique message id
func NewID() string {
	return uuid.New().String()
}

// Header value or empty string
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}

	return m.Headers[key]
}

// HasHeader check presence of header
func (m *Message) HasHeader(key string) bool {
	_, ok := m.Headers[key]
	return ok
}

// SetHeader empty value is ignored
func (m *Message) SetHeader(key, value string) {
	if len(value) == 0 {
		return
	}

	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}

	m.Headers[key] = value
}

// RemoveHeader ...
func (m *Message) RemoveHeader(key string) {
	delete(m.Headers, key)
}

func (m *Message) intHeader(key string) (int, bool) {
	s := m.Header(key)
	if len(s) == 0 {
		return 0, false
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}

	return v, true
}

func (m *Message) int64Header(key string) (int64, bool) {
	s := m.Header(key)
	if len(s) == 0 {
		return 0, false
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// Cmd ...
func (m *Message) Cmd() string { return m.Header(protocol.HeaderCommand) }

// SetCmd ...
func (m *Message) SetCmd(v string) { m.SetHeader(protocol.HeaderCommand, v) }

// Topic ...
func (m *Message) Topic() string { return m.Header(protocol.HeaderTopic) }

// SetTopic ...
func (m *Message) SetTopic(v string) { m.SetHeader(protocol.HeaderTopic, v) }

// ConsumeGroup ...
func (m *Message) ConsumeGroup() string { return m.Header(protocol.HeaderConsumeGroup) }

// SetConsumeGroup ...
func (m *Message) SetConsumeGroup(v string) { m.SetHeader(protocol.HeaderConsumeGroup, v) }

// ConsumeWindow ...
func (m *Message) ConsumeWindow() (int, bool) { return m.intHeader(protocol.HeaderConsumeWindow) }

// SetConsumeWindow values <= 0 are not sent
func (m *Message) SetConsumeWindow(v int) {
	if v > 0 {
		m.SetHeader(protocol.HeaderConsumeWindow, strconv.Itoa(v))
	}
}

// TopicMask ...
func (m *Message) TopicMask() (int, bool) { return m.intHeader(protocol.HeaderMask) }

// SetTopicMask ...
func (m *Message) SetTopicMask(v int) { m.SetHeader(protocol.HeaderMask, strconv.Itoa(v)) }

// GroupMask ...
func (m *Message) GroupMask() (int, bool) { return m.intHeader(protocol.HeaderGroupMask) }

// SetGroupMask ...
func (m *Message) SetGroupMask(v int) { m.SetHeader(protocol.HeaderGroupMask, strconv.Itoa(v)) }

// GroupFilter ...
func (m *Message) GroupFilter() string { return m.Header(protocol.HeaderGroupFilter) }

// SetGroupFilter ...
func (m *Message) SetGroupFilter(v string) { m.SetHeader(protocol.HeaderGroupFilter, v) }

// GroupStartCopy ...
func (m *Message) GroupStartCopy() string { return m.Header(protocol.HeaderGroupStartCopy) }

// SetGroupStartCopy ...
func (m *Message) SetGroupStartCopy(v string) { m.SetHeader(protocol.HeaderGroupStartCopy, v) }

// GroupStartOffset ...
func (m *Message) GroupStartOffset() (int64, bool) {
	return m.int64Header(protocol.HeaderGroupStartOffset)
}

// SetGroupStartOffset ...
func (m *Message) SetGroupStartOffset(v int64) {
	m.SetHeader(protocol.HeaderGroupStartOffset, strconv.FormatInt(v, 10))
}

// GroupStartMsgID ...
func (m *Message) GroupStartMsgID() string { return m.Header(protocol.HeaderGroupStartMsgID) }

// SetGroupStartMsgID ...
func (m *Message) SetGroupStartMsgID(v string) { m.SetHeader(protocol.HeaderGroupStartMsgID, v) }

// GroupStartTime ...
func (m *Message) GroupStartTime() (int64, bool) {
	return m.int64Header(protocol.HeaderGroupStartTime)
}

// SetGroupStartTime ...
func (m *Message) SetGroupStartTime(v int64) {
	m.SetHeader(protocol.HeaderGroupStartTime, strconv.FormatInt(v, 10))
}

// ID ...
func (m *Message) ID() string { return m.Header(protocol.HeaderID) }

// SetID ...
func (m *Message) SetID(v string) { m.SetHeader(protocol.HeaderID, v) }

// Token ...
func (m *Message) Token() string { return m.Header(protocol.HeaderToken) }

// SetToken ...
func (m *Message) SetToken(v string) { m.SetHeader(protocol.HeaderToken, v) }

// Sender ...
func (m *Message) Sender() string { return m.Header(protocol.HeaderSender) }

// SetSender ...
func (m *Message) SetSender(v string) { m.SetHeader(protocol.HeaderSender, v) }

// Recver ...
func (m *Message) Recver() string { return m.Header(protocol.HeaderRecver) }

// SetRecver ...
func (m *Message) SetRecver(v string) { m.SetHeader(protocol.HeaderRecver, v) }

// Encoding ...
func (m *Message) Encoding() string { return m.Header(protocol.HeaderEncoding) }

// SetEncoding ...
func (m *Message) SetEncoding(v string) { m.SetHeader(protocol.HeaderEncoding, v) }

// OriginID ...
func (m *Message) OriginID() string { return m.Header(protocol.HeaderOriginID) }

// SetOriginID ...
func (m *Message) SetOriginID(v string) { m.SetHeader(protocol.HeaderOriginID, v) }

// OriginURL ...
func (m *Message) OriginURL() string { return m.Header(protocol.HeaderOriginURL) }

// SetOriginURL ...
func (m *Message) SetOriginURL(v string) { m.SetHeader(protocol.HeaderOriginURL, v) }

// OriginStatus ...
func (m *Message) OriginStatus() (int, bool) { return m.intHeader(protocol.HeaderOriginStatus) }

// SetOriginStatus ...
func (m *Message) SetOriginStatus(v int) {
	m.SetHeader(protocol.HeaderOriginStatus, strconv.Itoa(v))
}

// Ack defaults to true when header is absent
func (m *Message) Ack() bool {
	v, ok := m.Headers[protocol.HeaderAck]
	return !ok || v == "1"
}

// SetAck ...
func (m *Message) SetAck(v bool) {
	if v {
		m.SetHeader(protocol.HeaderAck, "1")
	} else {
		m.SetHeader(protocol.HeaderAck, "0")
	}
}

// Version ...
func (m *Message) Version() string { return m.Header(protocol.HeaderVersion) }

// SetBody replaces body and content-length
func (m *Message) SetBody(body []byte) {
	m.Body = body
	m.SetHeader(protocol.HeaderContentLength, strconv.Itoa(len(body)))
}

// SetBodyString ...
func (m *Message) SetBodyString(s string) {
	m.SetBody([]byte(s))
}

// BodyString ...
func (m *Message) BodyString() string {
	return string(m.Body)
}

// SetJSONBody marshal v into body and mark content as json
func (m *Message) SetJSONBody(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.SetBody(data)
	m.SetHeader(protocol.HeaderContentType, "application/json")

	return nil
}

// JSON decode body into v
func (m *Message) JSON(v interface{}) error {
	return json.Unmarshal(m.Body, v)
}

// Clone deep copy
func (m *Message) Clone() *Message {
	c := &Message{
		URL:     m.URL,
		Method:  m.Method,
		Status:  m.Status,
		Headers: make(map[string]string, len(m.Headers)),
	}

	for k, v := range m.Headers {
		c.Headers[k] = v
	}

	if m.Body != nil {
		c.Body = append([]byte(nil), m.Body...)
	}

	return c
}
