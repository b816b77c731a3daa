package server

import (
	"encoding/json"
	"sync"

	"github.com/evmacro/evmacro/utils"
)

// notificationSink is anything that can push one marshaled notification
// frame to its client. Socket connections and WebSocket connections both
// qualify.
type notificationSink interface {
	sendNotification(payload []byte)
}

// Hub fans unsolicited notifications out to every connected client. It
// satisfies the registry and engine Notifier interfaces, so device hot-plug
// and session progress flow through the same path.
type Hub struct {
	mu    sync.Mutex
	sinks map[notificationSink]struct{}
}

func NewHub() *Hub {
	return &Hub{sinks: make(map[notificationSink]struct{})}
}

func (h *Hub) add(s notificationSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[s] = struct{}{}
}

func (h *Hub) remove(s notificationSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, s)
}

// Notify broadcasts one notification envelope. The envelope carries no id,
// which is what marks it unsolicited on the wire.
func (h *Hub) Notify(method string, params interface{}) {
	payload, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  mustMarshalParams(params),
	})
	if err != nil {
		utils.Error("Dropping notification %s: %v", method, err)
		return
	}

	h.mu.Lock()
	sinks := make([]notificationSink, 0, len(h.sinks))
	for s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.mu.Unlock()

	for _, s := range sinks {
		s.sendNotification(payload)
	}
}

func mustMarshalParams(params interface{}) json.RawMessage {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	return data
}
