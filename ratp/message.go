package ratp

import (
	"github.com/arloliu/go-ratp/internal/queue"
	"github.com/arloliu/go-ratp/internal/util"
)

// Message is a single fragment of a user message.
//
// Outbound fragments are created by Conn.Send, inbound fragments are created
// when a data packet is accepted. Data is at most MaxDataLength bytes.
type Message struct {
	data []byte
	eor  bool

	// onDone is invoked exactly once when the fragment is acknowledged (nil)
	// or the connection fails.
	onDone func(error)
}

// Data returns the fragment payload.
func (m *Message) Data() []byte { return m.data }

// EOR reports whether the fragment ends a user message.
func (m *Message) EOR() bool { return m.eor }

// done invokes the completion callback at most once.
func (m *Message) done(err error) {
	if m.onDone == nil {
		return
	}

	f := m.onDone
	m.onDone = nil
	f(err)
}

// splitMessage splits data into fragments of at most maxLen bytes.
//
// Only the last fragment carries EOR and the completion callback, so onDone
// fires once the whole user message has been acknowledged.
func splitMessage(data []byte, maxLen int, onDone func(error)) []*Message {
	if maxLen <= 0 || maxLen > MaxDataLength {
		maxLen = MaxDataLength
	}

	msgs := make([]*Message, 0, (len(data)+maxLen-1)/maxLen)

	for offset := 0; offset < len(data); offset += maxLen {
		end := min(offset+maxLen, len(data))

		msgs = append(msgs, &Message{
			data: util.CloneSlice(data[offset:end], 0),
			eor:  end == len(data),
		})
	}

	if len(msgs) > 0 {
		msgs[len(msgs)-1].onDone = onDone
	}

	return msgs
}

// assembleMessage removes the fragments of the first complete user message
// from q and returns their concatenated data. ok is false, and q is left
// untouched, when no fragment with EOR has been received yet.
func assembleMessage(q queue.Queue[*Message]) (data []byte, ok bool) {
	last := -1
	size := 0

	for i := range q.Length() {
		m := q.At(i)
		size += len(m.data)

		if m.eor {
			last = i
			break
		}
	}

	if last < 0 {
		return nil, false
	}

	data = make([]byte, 0, size)
	for range last + 1 {
		m, _ := q.Dequeue()
		data = append(data, m.data...)
	}

	return data, true
}

// failMessages completes every fragment in q with err and empties q.
func failMessages(q queue.Queue[*Message], err error) {
	for {
		m, ok := q.Dequeue()
		if !ok {
			return
		}
		m.done(err)
	}
}
