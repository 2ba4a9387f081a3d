package protocol

import (
	"strings"
)

// ServerAddress identifies MqServer or Tracker endpoint
// Value comparable and safe to use as map key
type ServerAddress struct {
	Address    string `json:"address"`
	SslEnabled bool   `json:"sslEnabled"`
}

// NewServerAddress plain (non-SSL) address
func NewServerAddress(address string) ServerAddress {
	return ServerAddress{Address: strings.TrimSpace(address)}
}

func (a ServerAddress) String() string {
	if a.SslEnabled {
		return "[SSL]" + a.Address
	}

	return a.Address
}

// ParseAddressList split tracker list separated by semicolon, comma or space
func ParseAddressList(list string) []ServerAddress {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ';' || r == ',' || r == ' '
	})

	var res []ServerAddress
	for _, f := range fields {
		if f = strings.TrimSpace(f); len(f) > 0 {
			res = append(res, NewServerAddress(f))
		}
	}

	return res
}

// ErrorInfo carries error of one slot of batch operation
type ErrorInfo struct {
	Error string `json:"error,omitempty"`
}

// SetError ...
func (e *ErrorInfo) SetError(err string) {
	e.Error = err
}

// TrackItem common tracking fields
type TrackItem struct {
	ErrorInfo
	ServerAddress ServerAddress `json:"serverAddress"`
	ServerVersion string        `json:"serverVersion,omitempty"`
}

// TrackerInfo snapshot pushed by tracker
type TrackerInfo struct {
	TrackItem
	InfoVersion int64                  `json:"infoVersion"`
	ServerTable map[string]*ServerInfo `json:"serverTable"`
}

// ServerInfo full state of one MqServer
type ServerInfo struct {
	TrackItem
	InfoVersion int64                 `json:"infoVersion"`
	TrackerList []ServerAddress       `json:"trackerList,omitempty"`
	TopicTable  map[string]*TopicInfo `json:"topicTable"`
}

// TopicInfo topic state on one server
type TopicInfo struct {
	TrackItem
	TopicName        string              `json:"topicName"`
	Mask             int                 `json:"mask"`
	MessageDepth     int64               `json:"messageDepth"`
	ConsumerCount    int                 `json:"consumerCount"`
	ConsumeGroupList []*ConsumeGroupInfo `json:"consumeGroupList,omitempty"`
	Creator          string              `json:"creator,omitempty"`
	CreatedTime      int64               `json:"createdTime"`
	LastUpdatedTime  int64               `json:"lastUpdatedTime"`
}

// ConsumeGroupInfo consume group state on one server
type ConsumeGroupInfo struct {
	ErrorInfo
	TopicName       string   `json:"topicName"`
	GroupName       string   `json:"groupName"`
	Mask            int      `json:"mask"`
	Filter          string   `json:"filter,omitempty"`
	MessageCount    int64    `json:"messageCount"`
	ConsumerCount   int      `json:"consumerCount"`
	ConsumerList    []string `json:"consumerList,omitempty"`
	Creator         string   `json:"creator,omitempty"`
	CreatedTime     int64    `json:"createdTime"`
	LastUpdatedTime int64    `json:"lastUpdatedTime"`
}

// ConsumeGroup declare options of consume group
// nil pointers are not sent
type ConsumeGroup struct {
	GroupName string
	Filter    string
	Mask      *int
	Creator   string
	// StartCopy create group as a copy of another group
	StartCopy string
	// StartOffset start from offset, StartMsgID used to validate it
	StartOffset *int64
	StartMsgID  string
	// StartTime start from time, unix millis
	StartTime *int64
}

// NewConsumeGroup group with name only
func NewConsumeGroup(name string) *ConsumeGroup {
	return &ConsumeGroup{GroupName: name}
}
