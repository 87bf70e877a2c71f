package kernel

import "context"

// event is one queued pub/sub message. The kernel accumulates events in
// an outbox during an operation and flushes them at the very end (spec
// §4.8, §9 "Event emission: batched into a per-operation outbox"), so a
// caller never observes notifications for a mutation that didn't commit.
type event struct {
	channel string
	payload string
}

type outbox struct {
	events []event
}

func (o *outbox) log(kind string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["event"] = kind
	o.events = append(o.events, event{channel: chanLog, payload: toJSON(fields)})
}

func (o *outbox) jid(channel, jid string) {
	o.events = append(o.events, event{channel: channel, payload: jid})
}

func (o *outbox) worker(workerName string, fields map[string]interface{}) {
	o.events = append(o.events, event{channel: workerChannel(workerName), payload: toJSON(fields)})
}

func (k *Kernel) flush(ctx context.Context, ob *outbox) error {
	for _, e := range ob.events {
		if err := k.store.Publish(ctx, e.channel, e.payload); err != nil {
			return err
		}
	}
	return nil
}
