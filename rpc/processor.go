package rpc

import (
	"context"
	"net/http"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VolantMQ/zbus/configuration"
	"github.com/VolantMQ/zbus/message"
)

// HandlerFunc serves one method, returned value is encoded as result
type HandlerFunc func(ctx context.Context, params []jsoniter.RawMessage) (interface{}, error)

// Processor dispatches requests to registered handlers
type Processor struct {
	lock     sync.RWMutex
	handlers map[string]HandlerFunc
	log      *zap.Logger
}

// NewProcessor ...
func NewProcessor(log *zap.Logger) *Processor {
	if log == nil {
		log = configuration.GetLogger().Named("rpc")
	}

	return &Processor{
		handlers: make(map[string]HandlerFunc),
		log:      log,
	}
}

// Register handler of module:method
func (p *Processor) Register(module, method string, h HandlerFunc) error {
	if len(method) == 0 {
		return ErrMissingMethod
	}

	key := Key(module, method)

	p.lock.Lock()
	defer p.lock.Unlock()

	if _, ok := p.handlers[key]; ok {
		return errors.Wrap(ErrDuplicate, key)
	}

	p.handlers[key] = h

	return nil
}

// Methods registered keys sorted
func (p *Processor) Methods() []string {
	p.lock.RLock()
	defer p.lock.RUnlock()

	res := make([]string, 0, len(p.handlers))
	for k := range p.handlers {
		res = append(res, k)
	}

	sort.Strings(res)

	return res
}

// Process run handler of request
// returned status follows http semantics of failure
func (p *Processor) Process(ctx context.Context, req *Request) (*Response, int) {
	if len(req.Method) == 0 {
		return &Response{Error: ErrMissingMethod.Error()}, http.StatusBadRequest
	}

	p.lock.RLock()
	h, ok := p.handlers[req.Key()]
	p.lock.RUnlock()

	if !ok {
		return &Response{Error: errors.Wrap(ErrMethodNotFound, req.Key()).Error()}, http.StatusNotFound
	}

	result, err := p.call(ctx, h, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Cause(err) == ErrBadParams {
			status = http.StatusBadRequest
		}

		return &Response{Error: err.Error()}, status
	}

	res := &Response{}

	if result != nil {
		if res.Result, err = json.Marshal(result); err != nil {
			return &Response{Error: errors.Wrap(err, "encode result").Error()}, http.StatusInternalServerError
		}
	}

	return res, http.StatusOK
}

func (p *Processor) call(ctx context.Context, h HandlerFunc, req *Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("rpc handler panicked", zap.String("method", req.Key()), zap.Any("panic", r))
			err = errors.Errorf("%s panicked: %v", req.Key(), r)
		}
	}()

	return h(ctx, req.Params)
}

// Handle decode request message and build response message
func (p *Processor) Handle(ctx context.Context, m *message.Message) *message.Message {
	res := message.New()
	res.Status = http.StatusOK

	var resp *Response

	req := &Request{}
	if err := m.JSON(req); err != nil {
		resp = &Response{Error: errors.Wrap(err, "decode request").Error()}
		res.Status = http.StatusBadRequest
	} else {
		resp, res.Status = p.Process(ctx, req)
	}

	if err := res.SetJSONBody(resp); err != nil {
		res.Status = http.StatusInternalServerError
		res.SetBodyString(err.Error())
	}

	if res.Status != http.StatusOK {
		p.log.Debug("rpc failed", zap.Int("status", res.Status), zap.String("error", resp.Error))
	}

	return res
}
