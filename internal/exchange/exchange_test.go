package exchange

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusFilled(t *testing.T) {
	assert.True(t, OrderStatus("FILLED").Filled())
	assert.True(t, OrderStatus("filled").Filled())
	assert.True(t, OrderStatus("CLOSED").Filled())
	assert.False(t, OrderStatusNew.Filled())
	assert.False(t, OrderStatusPartiallyFilled.Filled())
	assert.False(t, OrderStatusCanceled.Filled())
}

func TestIsOrderNotFound(t *testing.T) {
	assert.True(t, IsOrderNotFound(errors.New("code=-2011, msg=Unknown order sent")))
	assert.True(t, IsOrderNotFound(errors.New("bingx 错误 80016: order does not exist")))
	assert.True(t, IsOrderNotFound(errors.New("Order not exist")))
	assert.False(t, IsOrderNotFound(errors.New("insufficient margin")))
	assert.False(t, IsOrderNotFound(nil))
}

func TestTruncateToRoundsTowardZero(t *testing.T) {
	assert.InDelta(t, 110.11, TruncateTo(110.111, 2), 1e-9)
	assert.InDelta(t, 0.142, TruncateTo(0.14299, 3), 1e-9)
	assert.InDelta(t, 3.0, TruncateTo(3.0009, 3), 1e-9)
	// never rounds up
	assert.InDelta(t, 2.999, TruncateTo(2.99999, 3), 1e-9)
}
