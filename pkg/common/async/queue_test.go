package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueDrainsEverything(t *testing.T) {
	q := NewQueue()

	for round := 0; round < 5; round++ {
		for i := 0; i < 50; i++ {
			q.Enqueue(JobFunc(func(ctx context.Context) {}))
		}
		for i := 0; i < 50; i++ {
			<-q.DequeueChannel()
		}
	}
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	q := NewQueue()

	for i := 0; i < 100; i++ {
		go func() {
			q.Enqueue(JobFunc(func(ctx context.Context) {}))
		}()
	}
	for i := 0; i < 100; i++ {
		<-q.DequeueChannel()
	}
}

func TestQueuePreservesCommandOrder(t *testing.T) {
	q := NewQueue()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		q.Enqueue(JobFunc(func(ctx context.Context) {
			order = append(order, i)
		}))
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		job := <-q.DequeueChannel()
		job.Run(ctx)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}
