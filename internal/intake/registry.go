package intake

import (
	"fmt"

	"github.com/smallbiznis/waiterless/internal/order/domain"
)

// Registry maps a channel to its adapter.
type Registry struct {
	adapters map[domain.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Channel]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Channel()] = a
	}
	return r
}

// Default wires one adapter per supported channel.
func Default(core Submitter) *Registry {
	return NewRegistry(NewQR(core), NewVoice(core), NewMessaging(core), NewWeb(core))
}

func (r *Registry) For(raw string) (Adapter, error) {
	channel, err := domain.ParseChannel(raw)
	if err != nil {
		return nil, err
	}
	a, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, channel)
	}
	return a, nil
}
