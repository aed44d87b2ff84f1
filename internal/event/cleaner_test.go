package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanerRunsInReverseOrder(t *testing.T) {
	c := newCleaner()
	var order []int
	for i := 1; i <= 3; i++ {
		n := i
		c.Add(CallableFunc(func(ctx context.Context) error {
			order = append(order, n)
			return nil
		}))
	}

	errs := c.Clean()
	assert.Empty(t, errs)
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestCleanerCollectsErrorsAndRunsOnce(t *testing.T) {
	c := newCleaner()
	boom := errors.New("boom")
	calls := 0
	c.Add(CallableFunc(func(ctx context.Context) error {
		calls++
		return boom
	}))
	loggerCalls := 0
	c.loggerShutdown = CallableFunc(func(ctx context.Context) error {
		loggerCalls++
		return nil
	})

	errs := c.Clean()
	assert.Equal(t, []error{boom}, errs)
	assert.Nil(t, c.Clean())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, loggerCalls)
}

func TestCleanerIgnoresAddAfterClean(t *testing.T) {
	c := newCleaner()
	c.Clean()
	c.Add(CallableFunc(func(ctx context.Context) error { return nil }))
	assert.Empty(t, c.cleaners)
}
