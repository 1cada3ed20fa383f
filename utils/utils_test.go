package utils

import (
	"context"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestIntMath(t *testing.T) {
	test.That(t, AbsInt(-7), test.ShouldEqual, 7)
	test.That(t, AbsInt(7), test.ShouldEqual, 7)
	test.That(t, SignInt(-3), test.ShouldEqual, -1)
	test.That(t, SignInt(0), test.ShouldEqual, 0)
	test.That(t, SignInt(12), test.ShouldEqual, 1)
	test.That(t, MaxInt(3, 4), test.ShouldEqual, 4)
	test.That(t, MinInt(3, 4), test.ShouldEqual, 3)
	test.That(t, FloorDiv(7, 2), test.ShouldEqual, 3)
	test.That(t, FloorDiv(-7, 2), test.ShouldEqual, -4)
	test.That(t, FloorDiv(-8, 2), test.ShouldEqual, -4)
	test.That(t, FloorDiv(5, 0), test.ShouldEqual, 0)
}

func TestStoppableWorkers(t *testing.T) {
	var ran atomic.Int32
	started := make(chan struct{})
	sw := NewStoppableWorkers(func(ctx context.Context) {
		ran.Add(1)
		close(started)
		<-ctx.Done()
	})
	<-started
	test.That(t, sw.Context().Err(), test.ShouldBeNil)
	sw.Stop()
	test.That(t, int(ran.Load()), test.ShouldEqual, 1)
	test.That(t, sw.Context().Err(), test.ShouldNotBeNil)

	test.That(t, sw.Add(func(ctx context.Context) { ran.Add(1) }), test.ShouldBeFalse)
	sw.Stop()
	test.That(t, int(ran.Load()), test.ShouldEqual, 1)

	t.Run("added later", func(t *testing.T) {
		sw := NewStoppableWorkers()
		done := make(chan struct{})
		test.That(t, sw.Add(func(ctx context.Context) {
			<-ctx.Done()
			close(done)
		}), test.ShouldBeTrue)
		sw.Stop()
		<-done
	})
}
