package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishInRegistrationOrder(t *testing.T) {
	b := NewBroadcaster[int](nil)

	var got []string
	b.Subscribe(func(v int) { got = append(got, "first") })
	b.Subscribe(func(v int) { got = append(got, "second") })
	b.Subscribe(func(v int) { got = append(got, "third") })

	b.Publish(1)
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroadcaster[string](nil)

	var received []string
	b.Subscribe(func(v string) { received = append(received, "a:"+v) })
	b.Subscribe(func(string) { panic("boom") })
	b.Subscribe(func(v string) { received = append(received, "c:"+v) })

	assert.NotPanics(t, func() { b.Publish("x") })
	assert.Equal(t, []string{"a:x", "c:x"}, received)
	assert.Equal(t, 3, b.Len(), "registry is intact after a panic")

	b.Publish("y")
	assert.Equal(t, []string{"a:x", "c:x", "a:y", "c:y"}, received)
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroadcaster[int](nil)

	var a, c int
	_, unsubA := b.Subscribe(func(v int) { a += v })
	idC, _ := b.Subscribe(func(v int) { c += v })

	b.Publish(1)
	unsubA()
	unsubA()
	b.Unsubscribe(idC)
	b.Unsubscribe(12345)
	b.Publish(10)

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, c)
	assert.Zero(t, b.Len(), "no leaked callbacks")
}

func TestSubscribeDuringPublish(t *testing.T) {
	b := NewBroadcaster[int](nil)

	var late int
	b.Subscribe(func(int) {
		b.Subscribe(func(v int) { late += v })
	})

	b.Publish(1)
	assert.Zero(t, late, "new subscribers see the next publish")
	b.Publish(5)
	assert.Equal(t, 5, late)
}
