package sim

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"
)

type testRun struct {
	start, warmup, end FloatTime
}

func (r testRun) StartTime() FloatTime  { return r.start }
func (r testRun) WarmupTime() FloatTime { return r.warmup }
func (r testRun) EndTime() FloatTime    { return r.end }

type tickRun struct {
	end TickTime
}

func (r tickRun) StartTime() TickTime  { return 0 }
func (r tickRun) WarmupTime() TickTime { return NeverTick }
func (r tickRun) EndTime() TickTime    { return r.end }

type instantRun struct {
	start, end Instant
}

func (r instantRun) StartTime() Instant  { return r.start }
func (r instantRun) WarmupTime() Instant { return NeverInstant }
func (r instantRun) EndTime() Instant    { return r.end }

func openEndedRun() testRun {
	return testRun{start: 0, warmup: NeverFloat, end: NeverFloat}
}

func boundedRun(end FloatTime) testRun {
	return testRun{start: 0, warmup: NeverFloat, end: end}
}

var _ = Describe("Engine", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *Engine[FloatTime]
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewEngine[FloatTime]("test-engine", nil)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	initialize := func(
		run testRun,
		construct func(s Scheduler[FloatTime]) error,
	) {
		model := NewMockModel[FloatTime](mockCtrl)
		model.EXPECT().
			ConstructModel(gomock.Any()).
			DoAndReturn(construct)

		Expect(engine.Initialize(model, run)).To(Succeed())
	}

	Context("before initialization", func() {
		It("should be in the NOT_INITIALIZED state", func() {
			Expect(engine.State()).To(Equal(StateNotInitialized))
		})

		It("should refuse to schedule", func() {
			_, err := engine.ScheduleAt(FloatTime(1.0), NormalPriority,
				noAction)
			Expect(err).To(MatchError(ErrNotInitialized))
		})

		It("should refuse to start, step, and stop", func() {
			Expect(engine.Start()).To(MatchError(ErrNotInitialized))
			Expect(engine.Step()).To(MatchError(ErrNotInitialized))
			Expect(engine.Stop()).To(MatchError(ErrIllegalState))
		})
	})

	Context("initialization", func() {
		It("should construct the model and set the clock", func() {
			constructed := false
			initialize(testRun{start: 10, warmup: NeverFloat, end: 20},
				func(s Scheduler[FloatTime]) error {
					constructed = true

					return nil
				})

			Expect(constructed).To(BeTrue())
			Expect(engine.State()).To(Equal(StateInitialized))
			Expect(engine.Now()).To(Equal(FloatTime(10)))
		})

		It("should refuse a second initialization", func() {
			initialize(openEndedRun(),
				func(s Scheduler[FloatTime]) error { return nil })

			model := NewMockModel[FloatTime](mockCtrl)
			err := engine.Initialize(model, openEndedRun())
			Expect(err).To(MatchError(ErrAlreadyInitialized))
		})

		It("should run initial actions after model construction", func() {
			order := []string{}

			Expect(engine.AddInitialAction(func() error {
				order = append(order, "initial")

				return nil
			})).To(Succeed())

			initialize(openEndedRun(),
				func(s Scheduler[FloatTime]) error {
					order = append(order, "construct")

					return nil
				})

			Expect(order).To(Equal([]string{"construct", "initial"}))
		})

		It("should refuse initial actions once initialized", func() {
			initialize(openEndedRun(),
				func(s Scheduler[FloatTime]) error { return nil })

			err := engine.AddInitialAction(noAction)
			Expect(err).To(MatchError(ErrIllegalState))
		})
	})

	Context("running", func() {
		It("should execute a self-scheduling action until the end time",
			func() {
				times := []float64{}

				initialize(boundedRun(5.0),
					func(s Scheduler[FloatTime]) error {
						var tick Action
						tick = func() error {
							times = append(times, s.Now().Float())
							_, err := s.ScheduleAfter(
								FloatTime(2.0), NormalPriority, tick)

							return err
						}

						_, err := s.ScheduleNow(NormalPriority, tick)

						return err
					})

				Expect(engine.Run()).To(Succeed())

				Expect(times).To(Equal([]float64{0, 2, 4}))
				Expect(engine.State()).To(Equal(StateEnded))
				Expect(engine.Now()).To(Equal(FloatTime(5.0)))
			})

		It("should order same-time actions by priority", func() {
			order := []string{}

			initialize(boundedRun(2.0),
				func(s Scheduler[FloatTime]) error {
					record := func(name string) Action {
						return func() error {
							order = append(order, name)

							return nil
						}
					}

					if _, err := s.ScheduleAt(FloatTime(1.0), MinPriority,
						record("low")); err != nil {
						return err
					}

					_, err := s.ScheduleAt(FloatTime(1.0), NormalPriority,
						record("normal"))

					return err
				})

			Expect(engine.Run()).To(Succeed())
			Expect(order).To(Equal([]string{"normal", "low"}))
		})

		It("should not execute actions scheduled exactly at the end time",
			func() {
				fired := false

				initialize(boundedRun(5.0),
					func(s Scheduler[FloatTime]) error {
						_, err := s.ScheduleAt(FloatTime(5.0),
							NormalPriority, func() error {
								fired = true

								return nil
							})

						return err
					})

				Expect(engine.Run()).To(Succeed())
				Expect(fired).To(BeFalse())
				Expect(engine.State()).To(Equal(StateEnded))
			})

		It("should jump to the end time when the list drains", func() {
			initialize(boundedRun(5.0),
				func(s Scheduler[FloatTime]) error {
					_, err := s.ScheduleAt(FloatTime(1.0),
						NormalPriority, noAction)

					return err
				})

			Expect(engine.Run()).To(Succeed())
			Expect(engine.Now()).To(Equal(FloatTime(5.0)))
			Expect(engine.State()).To(Equal(StateEnded))
		})

		It("should end at the last event of an open-ended run", func() {
			initialize(openEndedRun(),
				func(s Scheduler[FloatTime]) error {
					_, err := s.ScheduleAt(FloatTime(3.0),
						NormalPriority, noAction)

					return err
				})

			Expect(engine.Run()).To(Succeed())
			Expect(engine.Now()).To(Equal(FloatTime(3.0)))
			Expect(engine.State()).To(Equal(StateEnded))
		})

		It("should refuse to start once ended", func() {
			initialize(boundedRun(1.0),
				func(s Scheduler[FloatTime]) error { return nil })

			Expect(engine.Run()).To(Succeed())
			Expect(engine.Start()).To(MatchError(ErrAlreadyEnded))
		})
	})

	Context("scheduling", func() {
		It("should refuse negative delays without touching the list",
			func() {
				initialize(boundedRun(5.0),
					func(s Scheduler[FloatTime]) error { return nil })

				before := engine.Pending()
				_, err := engine.ScheduleAfter(FloatTime(-1.0),
					NormalPriority, noAction)

				Expect(err).To(MatchError(ErrInvalidSchedule))
				Expect(engine.Pending()).To(Equal(before))
			})

		It("should refuse absolute times in the past", func() {
			initialize(testRun{start: 10, warmup: NeverFloat, end: 20},
				func(s Scheduler[FloatTime]) error { return nil })

			_, err := engine.ScheduleAt(FloatTime(9.0), NormalPriority,
				noAction)
			Expect(err).To(MatchError(ErrInvalidSchedule))
		})

		It("should never execute a cancelled event", func() {
			fired := []string{}

			initialize(boundedRun(5.0),
				func(s Scheduler[FloatTime]) error {
					evt, err := s.ScheduleAt(FloatTime(1.0),
						NormalPriority, func() error {
							fired = append(fired, "cancelled")

							return nil
						})
					if err != nil {
						return err
					}

					s.Cancel(evt)

					_, err = s.ScheduleAt(FloatTime(2.0),
						NormalPriority, func() error {
							fired = append(fired, "kept")

							return nil
						})

					return err
				})

			Expect(engine.Run()).To(Succeed())
			Expect(fired).To(Equal([]string{"kept"}))
		})
	})

	Context("stopping and resuming", func() {
		It("should suspend when an action requests a stop", func() {
			fired := []float64{}

			initialize(boundedRun(10.0),
				func(s Scheduler[FloatTime]) error {
					record := func() error {
						fired = append(fired, s.Now().Float())

						return nil
					}

					for _, t := range []float64{1, 3, 4} {
						if _, err := s.ScheduleAt(FloatTime(t),
							NormalPriority, record); err != nil {
							return err
						}
					}

					_, err := s.ScheduleAt(FloatTime(2.0),
						NormalPriority, func() error {
							return engine.Stop()
						})

					return err
				})

			Expect(engine.Run()).To(Succeed())
			Expect(engine.State()).To(Equal(StateStopped))
			Expect(fired).To(Equal([]float64{1}))

			Expect(engine.Run()).To(Succeed())
			Expect(engine.State()).To(Equal(StateEnded))
			Expect(fired).To(Equal([]float64{1, 3, 4}))
		})

		It("should suspend at a run-up-to boundary exclusively", func() {
			fired := []float64{}

			initialize(boundedRun(10.0),
				func(s Scheduler[FloatTime]) error {
					record := func() error {
						fired = append(fired, s.Now().Float())

						return nil
					}

					for _, t := range []float64{1, 2, 3} {
						if _, err := s.ScheduleAt(FloatTime(t),
							NormalPriority, record); err != nil {
							return err
						}
					}

					return nil
				})

			Expect(engine.RunUpTo(FloatTime(3.0))).To(Succeed())
			Expect(engine.Wait()).To(Succeed())

			Expect(engine.State()).To(Equal(StateStopped))
			Expect(engine.Now()).To(Equal(FloatTime(3.0)))
			Expect(fired).To(Equal([]float64{1, 2}))

			Expect(engine.Run()).To(Succeed())
			Expect(fired).To(Equal([]float64{1, 2, 3}))
			Expect(engine.State()).To(Equal(StateEnded))
		})

		It("should include boundary events with RunUpToIncluding", func() {
			fired := []float64{}

			initialize(boundedRun(10.0),
				func(s Scheduler[FloatTime]) error {
					record := func() error {
						fired = append(fired, s.Now().Float())

						return nil
					}

					for _, t := range []float64{1, 3} {
						if _, err := s.ScheduleAt(FloatTime(t),
							NormalPriority, record); err != nil {
							return err
						}
					}

					return nil
				})

			Expect(engine.RunUpToIncluding(FloatTime(3.0))).To(Succeed())
			Expect(engine.Wait()).To(Succeed())

			Expect(engine.State()).To(Equal(StateStopped))
			Expect(fired).To(Equal([]float64{1, 3}))
		})

		It("should refuse a run-up-to time in the past", func() {
			initialize(testRun{start: 5, warmup: NeverFloat, end: 20},
				func(s Scheduler[FloatTime]) error { return nil })

			err := engine.RunUpTo(FloatTime(4.0))
			Expect(err).To(MatchError(ErrInvalidSchedule))
		})

		It("should refuse to stop while suspended", func() {
			initialize(openEndedRun(),
				func(s Scheduler[FloatTime]) error { return nil })

			Expect(engine.Stop()).To(MatchError(ErrIllegalState))
		})
	})

	Context("stepping", func() {
		It("should execute exactly one event per step", func() {
			fired := []float64{}

			initialize(boundedRun(5.0),
				func(s Scheduler[FloatTime]) error {
					record := func() error {
						fired = append(fired, s.Now().Float())

						return nil
					}

					for _, t := range []float64{1, 2} {
						if _, err := s.ScheduleAt(FloatTime(t),
							NormalPriority, record); err != nil {
							return err
						}
					}

					return nil
				})

			Expect(engine.Step()).To(Succeed())
			Expect(fired).To(Equal([]float64{1}))
			Expect(engine.Now()).To(Equal(FloatTime(1.0)))
			Expect(engine.State()).To(Equal(StateStopped))

			Expect(engine.Step()).To(Succeed())
			Expect(fired).To(Equal([]float64{1, 2}))
			Expect(engine.State()).To(Equal(StateStopped))

			Expect(engine.Step()).To(Succeed())
			Expect(engine.State()).To(Equal(StateEnded))
			Expect(engine.Now()).To(Equal(FloatTime(5.0)))

			Expect(engine.Step()).To(MatchError(ErrAlreadyEnded))
		})
	})

	Context("warmup", func() {
		It("should announce the end of the warmup period", func() {
			var warmupTime FloatTime

			listener := NewMockListener[FloatTime](mockCtrl)
			listener.EXPECT().
				Notify(gomock.Any()).
				Do(func(n Notification[FloatTime]) {
					warmupTime = n.Time
				})
			engine.Subscribe(KindWarmup, listener)

			initialize(testRun{start: 0, warmup: 2, end: 5},
				func(s Scheduler[FloatTime]) error { return nil })

			Expect(engine.Run()).To(Succeed())
			Expect(warmupTime).To(Equal(FloatTime(2.0)))
		})
	})

	Context("model failures", func() {
		It("should stop with a ModelExecutionError when an action fails",
			func() {
				boom := errors.New("boom")

				initialize(boundedRun(5.0),
					func(s Scheduler[FloatTime]) error {
						if _, err := s.ScheduleAt(FloatTime(1.0),
							NormalPriority, func() error {
								return boom
							}); err != nil {
							return err
						}

						_, err := s.ScheduleAt(FloatTime(2.0),
							NormalPriority, noAction)

						return err
					})

				err := engine.Run()

				var mee *ModelExecutionError
				Expect(errors.As(err, &mee)).To(BeTrue())
				Expect(mee.Time).To(Equal(1.0))
				Expect(errors.Is(err, boom)).To(BeTrue())

				Expect(engine.State()).To(Equal(StateStopped))
				Expect(engine.Pending()).To(BeNumerically(">", 0))
			})

		It("should convert an action panic into an error", func() {
			initialize(boundedRun(5.0),
				func(s Scheduler[FloatTime]) error {
					_, err := s.ScheduleAt(FloatTime(1.0),
						NormalPriority, func() error {
							panic("blown up")
						})

					return err
				})

			err := engine.Run()

			var mee *ModelExecutionError
			Expect(errors.As(err, &mee)).To(BeTrue())
			Expect(engine.State()).To(Equal(StateStopped))
		})
	})

	Context("reentrancy", func() {
		It("should reject scheduling from inside a notification", func() {
			var schedErr error

			listener := NewMockListener[FloatTime](mockCtrl)
			listener.EXPECT().
				Notify(gomock.Any()).
				Do(func(n Notification[FloatTime]) {
					_, schedErr = engine.ScheduleNow(NormalPriority,
						noAction)
				}).
				AnyTimes()
			engine.Subscribe(KindTimeAdvanced, listener)

			initialize(boundedRun(5.0),
				func(s Scheduler[FloatTime]) error {
					_, err := s.ScheduleAt(FloatTime(1.0),
						NormalPriority, noAction)

					return err
				})

			Expect(engine.Run()).To(Succeed())
			Expect(schedErr).To(MatchError(ErrReentrantSchedule))
		})

		It("should stay guarded across nested publications", func() {
			var stopErr, schedErr error
			scheduled := false

			listener := NewMockListener[FloatTime](mockCtrl)
			listener.EXPECT().
				Notify(gomock.Any()).
				Do(func(n Notification[FloatTime]) {
					if n.Kind != KindTimeAdvanced || schedErr != nil {
						return
					}

					stopErr = engine.Stop()
					_, schedErr = engine.ScheduleNow(NormalPriority,
						func() error {
							scheduled = true

							return nil
						})
				}).
				AnyTimes()
			engine.SubscribeAll(listener)

			initialize(boundedRun(5.0),
				func(s Scheduler[FloatTime]) error {
					_, err := s.ScheduleAt(FloatTime(1.0),
						NormalPriority, noAction)

					return err
				})

			Expect(engine.Run()).To(Succeed())
			Expect(stopErr).ToNot(HaveOccurred())
			Expect(schedErr).To(MatchError(ErrReentrantSchedule))
			Expect(scheduled).To(BeFalse())
		})
	})

	Context("other time representations", func() {
		It("should run on integer ticks", func() {
			e := NewEngine[TickTime]("ticks", nil)
			fired := []TickTime{}

			model := NewMockModel[TickTime](mockCtrl)
			model.EXPECT().
				ConstructModel(gomock.Any()).
				DoAndReturn(func(s Scheduler[TickTime]) error {
					var tick Action
					tick = func() error {
						fired = append(fired, s.Now())
						_, err := s.ScheduleAfter(TickTime(3),
							NormalPriority, tick)

						return err
					}

					_, err := s.ScheduleNow(NormalPriority, tick)

					return err
				})

			run := tickRun{end: TickTime(10)}
			Expect(e.Initialize(model, run)).To(Succeed())
			Expect(e.Run()).To(Succeed())

			Expect(fired).To(Equal(
				[]TickTime{0, 3, 6, 9}))
			Expect(e.Now()).To(Equal(TickTime(10)))
			Expect(e.State()).To(Equal(StateEnded))
		})

		It("should run on calendar instants", func() {
			base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
			start := InstantAt(base)

			e := NewEngine[Instant]("instants", nil)
			fired := []Instant{}

			model := NewMockModel[Instant](mockCtrl)
			model.EXPECT().
				ConstructModel(gomock.Any()).
				DoAndReturn(func(s Scheduler[Instant]) error {
					var tick Action
					tick = func() error {
						fired = append(fired, s.Now())
						_, err := s.ScheduleAfter(
							Span(3*time.Minute), NormalPriority, tick)

						return err
					}

					_, err := s.ScheduleNow(NormalPriority, tick)

					return err
				})

			run := instantRun{
				start: start,
				end:   start.Add(Span(10 * time.Minute)),
			}
			Expect(e.Initialize(model, run)).To(Succeed())
			Expect(e.Run()).To(Succeed())

			Expect(fired).To(Equal([]Instant{
				start,
				start.Add(Span(3 * time.Minute)),
				start.Add(Span(6 * time.Minute)),
				start.Add(Span(9 * time.Minute)),
			}))
			Expect(e.Now()).To(Equal(start.Add(Span(10 * time.Minute))))
			Expect(e.State()).To(Equal(StateEnded))
		})
	})

	Context("determinism", func() {
		It("should produce the same trace on identical schedules", func() {
			trace := func() []float64 {
				e := NewEngine[FloatTime]("trace", nil)
				fired := []float64{}

				model := NewMockModel[FloatTime](mockCtrl)
				model.EXPECT().
					ConstructModel(gomock.Any()).
					DoAndReturn(func(s Scheduler[FloatTime]) error {
						var relay Action
						relay = func() error {
							fired = append(fired, s.Now().Float())
							_, err := s.ScheduleAfter(FloatTime(1.5),
								NormalPriority, relay)

							return err
						}

						_, err := s.ScheduleNow(NormalPriority, relay)

						return err
					})

				Expect(e.Initialize(model, boundedRun(10.0))).To(Succeed())
				Expect(e.Run()).To(Succeed())

				return fired
			}

			Expect(trace()).To(Equal(trace()))
		})
	})
})
