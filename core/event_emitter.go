package orchestration

import events "github.com/danstonedev/EMRsim-chat-sub004/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

func newCallbackEventEmitter(opts RunOptions) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.UtteranceProvisional:
			if opts.onProvisional != nil {
				opts.onProvisional(typedEvent)
			}
		case events.UtteranceFinalized:
			if opts.onFinalized != nil {
				opts.onFinalized(typedEvent)
			}
		case events.UtteranceRelayed:
			if opts.onRelayed != nil {
				opts.onRelayed(typedEvent)
			}
		}
		if opts.onEvent != nil {
			opts.onEvent(event)
		}
	}
}
