package signup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelayFanOutAndDispose(t *testing.T) {
	r := NewRelay()

	var a, b []string
	subA := r.Subscribe(func(m Message) { a = append(a, m.Origin) })
	subB := r.Subscribe(func(m Message) { b = append(b, m.Origin) })
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 2, r.Dispatch(Message{Origin: "one"}))

	subA.Dispose()
	subA.Dispose()
	assert.Equal(t, 1, r.Len())

	assert.Equal(t, 1, r.Dispatch(Message{Origin: "two"}))
	assert.Equal(t, []string{"one"}, a)
	assert.Equal(t, []string{"one", "two"}, b)

	subB.Dispose()
	assert.Equal(t, 0, r.Dispatch(Message{Origin: "three"}))
}

func TestRelaySubscriberMayDisposeDuringDispatch(t *testing.T) {
	r := NewRelay()
	var sub Subscription
	calls := 0
	sub = r.Subscribe(func(Message) {
		calls++
		sub.Dispose()
	})

	r.Dispatch(Message{})
	r.Dispatch(Message{})
	assert.Equal(t, 1, calls)
}
