package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"
)

var _ = Describe("Producer", func() {
	var (
		mockCtrl *gomock.Controller
		producer *Producer[FloatTime]
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		producer = &Producer[FloatTime]{}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	notification := func(kind *NotificationKind) Notification[FloatTime] {
		return Notification[FloatTime]{Kind: kind, Time: FloatTime(1.0)}
	}

	It("should deliver to subscribers of the kind", func() {
		listener := NewMockListener[FloatTime](mockCtrl)
		listener.EXPECT().Notify(notification(KindWarmup))

		producer.Subscribe(KindWarmup, listener)
		producer.fire(notification(KindWarmup))
	})

	It("should not deliver other kinds", func() {
		listener := NewMockListener[FloatTime](mockCtrl)

		producer.Subscribe(KindWarmup, listener)
		producer.fire(notification(KindRunEnded))
	})

	It("should deliver everything to all-subscribers", func() {
		listener := NewMockListener[FloatTime](mockCtrl)
		listener.EXPECT().Notify(notification(KindWarmup))
		listener.EXPECT().Notify(notification(KindRunEnded))

		producer.SubscribeAll(listener)
		producer.fire(notification(KindWarmup))
		producer.fire(notification(KindRunEnded))
	})

	It("should deliver once per subscription", func() {
		listener := NewMockListener[FloatTime](mockCtrl)
		listener.EXPECT().Notify(notification(KindWarmup)).Times(2)

		producer.Subscribe(KindWarmup, listener)
		producer.SubscribeAll(listener)
		producer.fire(notification(KindWarmup))
	})

	It("should stop delivering after unsubscribe", func() {
		listener := NewMockListener[FloatTime](mockCtrl)

		producer.Subscribe(KindWarmup, listener)
		producer.Unsubscribe(KindWarmup, listener)
		producer.fire(notification(KindWarmup))
	})

	It("should stop delivering after unsubscribe-all", func() {
		listener := NewMockListener[FloatTime](mockCtrl)

		producer.SubscribeAll(listener)
		producer.UnsubscribeAll(listener)
		producer.fire(notification(KindWarmup))
	})

	It("should report whether listeners exist", func() {
		Expect(producer.HasListeners()).To(BeFalse())

		listener := NewMockListener[FloatTime](mockCtrl)
		producer.Subscribe(KindWarmup, listener)

		Expect(producer.HasListeners()).To(BeTrue())

		producer.Unsubscribe(KindWarmup, listener)
		Expect(producer.HasListeners()).To(BeFalse())
	})
})
