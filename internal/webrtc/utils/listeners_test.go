package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListeners(t *testing.T) {
	var listeners Listeners[int]
	received := []int{}

	dispose := listeners.Add(func(value int) { received = append(received, value) })
	listeners.Add(func(value int) { received = append(received, value*10) })

	listeners.Emit(1)
	dispose()
	dispose()
	listeners.Emit(2)

	assert.Equal(t, []int{1, 10, 20}, received)
	assert.Equal(t, 1, listeners.Len())

	listeners.Clear()
	listeners.Emit(3)
	assert.Equal(t, []int{1, 10, 20}, received)
}

func TestListenersDisposeDuringEmit(t *testing.T) {
	var listeners Listeners[struct{}]
	calls := 0

	var dispose func()
	dispose = listeners.Add(func(struct{}) {
		calls++
		dispose()
	})

	listeners.Emit(struct{}{})
	listeners.Emit(struct{}{})
	assert.Equal(t, 1, calls)
	assert.Zero(t, listeners.Len())
}
