package locks_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"axoncore/src/infra/locks"
)

var _ = Describe("LocalLocker", func() {
	var (
		ctx    context.Context
		locker *locks.LocalLocker
	)

	BeforeEach(func() {
		ctx = context.Background()
		locker = locks.NewLocalLocker()
	})

	It("lets disjoint key sets proceed together", func() {
		// ARRANGE
		unlockA, err := locker.Lock(ctx, "devices", []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		defer unlockA()

		// ACT
		unlockC, err := locker.Lock(ctx, "devices", []string{"c"})

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		unlockC()
	})

	It("keeps scopes apart", func() {
		// ARRANGE
		unlock, err := locker.Lock(ctx, "devices", []string{"a"})
		Expect(err).NotTo(HaveOccurred())
		defer unlock()

		// ACT
		other, err := locker.Lock(ctx, "users", []string{"a"})

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		other()
	})

	It("blocks an overlapping set until the holder releases", func() {
		// ARRANGE
		unlock, err := locker.Lock(ctx, "devices", []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())

		var acquired atomic.Bool
		go func() {
			defer GinkgoRecover()
			release, err := locker.Lock(ctx, "devices", []string{"b", "c"})
			Expect(err).NotTo(HaveOccurred())
			acquired.Store(true)
			release()
		}()

		// ACT & ASSERT
		Consistently(acquired.Load, 50*time.Millisecond).Should(BeFalse())
		unlock()
		Eventually(acquired.Load).Should(BeTrue())
	})

	It("gives up when the context ends", func() {
		// ARRANGE
		unlock, err := locker.Lock(ctx, "devices", []string{"a"})
		Expect(err).NotTo(HaveOccurred())
		defer unlock()

		timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		// ACT
		_, err = locker.Lock(timeout, "devices", []string{"a"})

		// ASSERT
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("tolerates releasing twice", func() {
		// ARRANGE
		unlock, err := locker.Lock(ctx, "devices", []string{"a"})
		Expect(err).NotTo(HaveOccurred())

		// ACT
		unlock()
		unlock()

		// ASSERT
		again, err := locker.Lock(ctx, "devices", []string{"a"})
		Expect(err).NotTo(HaveOccurred())
		again()
	})
})

var _ = Describe("ScopedKeys", func() {
	It("prefixes, sorts and drops duplicates", func() {
		Expect(locks.ScopedKeys("devices", []string{"b", "a", "b"})).To(Equal([]string{"devices:a", "devices:b"}))
	})
})
