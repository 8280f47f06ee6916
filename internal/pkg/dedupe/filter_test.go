package dedupe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTestAndSet(t *testing.T) {
	f := New(1<<12, 3)

	assert.False(t, f.TestAndSet("evt-1"), "first sighting must not read as seen")
	assert.True(t, f.TestAndSet("evt-1"), "second sighting must read as seen")
}

func TestReset(t *testing.T) {
	f := New(1<<12, 3)

	f.TestAndSet("evt-1")
	f.Reset()
	assert.False(t, f.TestAndSet("evt-1"))
}

func TestNoFalseNegatives(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := New(1<<16, 4)
		n := rapid.IntRange(1, 500).Draw(rt, "n")

		for i := 0; i < n; i++ {
			f.TestAndSet(fmt.Sprintf("key-%d", i))
		}
		for i := 0; i < n; i++ {
			if !f.TestAndSet(fmt.Sprintf("key-%d", i)) {
				rt.Fatalf("key-%d was inserted but reads as unseen", i)
			}
		}
	})
}

func TestConcurrentAccess(t *testing.T) {
	f := New(1<<16, 4)
	done := make(chan struct{})

	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 1000; i++ {
				f.TestAndSet(fmt.Sprintf("g%d-key-%d", g, i))
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}
