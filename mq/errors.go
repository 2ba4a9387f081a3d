package mq

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/VolantMQ/zbus/message"
)

var (
	// ErrMissingTopic message or consumer has no topic
	ErrMissingTopic = errors.New("mq: missing topic")
	// ErrMissingHandler consumer started without handler
	ErrMissingHandler = errors.New("mq: missing message handler")
	// ErrMissingFactory consume thread started without client factory
	ErrMissingFactory = errors.New("mq: missing client factory")
	// ErrNoServer no live server serves requested topic
	ErrNoServer = errors.New("mq: no server available")
	// ErrGroupNotFound server keeps answering 404 after group declared
	ErrGroupNotFound = errors.New("mq: consume group not found")
	// ErrDisposed object already disposed
	ErrDisposed = errors.New("mq: disposed")
)

// Error protocol level failure, server answered with non 200 status
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	if len(e.Body) == 0 {
		return "mq: status " + strconv.Itoa(e.Status)
	}

	return "mq: status " + strconv.Itoa(e.Status) + ": " + e.Body
}

// checkStatus non 200 responses turn into *Error
func checkStatus(res *message.Message) error {
	if res.Status == 200 {
		return nil
	}

	return &Error{Status: res.Status, Body: res.BodyString()}
}

// IsStatus err carries protocol status code
func IsStatus(err error, status int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Status == status
	}

	return false
}
