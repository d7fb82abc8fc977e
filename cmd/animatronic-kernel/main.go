package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rolojard/animatronic-kernel/internal/adapters"
	"github.com/rolojard/animatronic-kernel/internal/behavior"
	"github.com/rolojard/animatronic-kernel/internal/clock"
	"github.com/rolojard/animatronic-kernel/internal/compiler"
	"github.com/rolojard/animatronic-kernel/internal/config"
	"github.com/rolojard/animatronic-kernel/internal/eventbus"
	"github.com/rolojard/animatronic-kernel/internal/joint"
	"github.com/rolojard/animatronic-kernel/internal/persistence"
	"github.com/rolojard/animatronic-kernel/internal/safety"
	"github.com/rolojard/animatronic-kernel/internal/scheduler"
	"github.com/rolojard/animatronic-kernel/internal/timeline"
	"github.com/rolojard/animatronic-kernel/internal/transport/httpapi"
	"github.com/rolojard/animatronic-kernel/internal/transport/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	doc, err := config.LoadShowDocument(cfg.ShowDocumentPath)
	if err != nil {
		log.Fatalf("show document error: %v", err)
	}

	jointTable, err := joint.NewTable(doc.Joints)
	if err != nil {
		log.Fatalf("joint table error: %v", err)
	}

	dbPair, err := persistence.Open(cfg.SQLiteDBPath)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	incidents := persistence.NewIncidentStore(dbPair)
	guests := persistence.NewGuestStore(dbPair)

	realClock := clock.NewReal()
	bus := eventbus.New(64, 64, 16)

	servoLogger := log.New(os.Stdout, "servo: ", log.LstdFlags)
	servoBus := adapters.NewLoggingServoBus(servoLogger)
	audioPlayer := adapters.NewLoggingAudioPlayer(log.New(os.Stdout, "audio: ", log.LstdFlags))
	lightBus := adapters.NewLoggingLightBus(log.New(os.Stdout, "light: ", log.LstdFlags))

	defaultMode := "baseline"
	defaultParams, ok := doc.PersonalityModes[defaultMode]
	if !ok {
		defaultParams = compiler.DefaultPersonalityParams()
	}
	personality := behavior.NewPersonalityState(defaultMode, defaultParams, realClock.Now, 30)

	sched := scheduler.New(jointTable, servoBus, realClock, log.New(os.Stdout, "scheduler: ", log.LstdFlags), bus, personality)
	sched.SetTickRate(cfg.TickRateHz)

	coordinator := timeline.New(doc.Sequences, jointTable, sched, audioPlayer, lightBus, bus, realClock, log.New(os.Stdout, "timeline: ", log.LstdFlags))

	experiences := config.BuildExperiences(doc)
	selector := behavior.New(experiences, doc.Experiences, coordinator, personality, guests, realClock, log.New(os.Stdout, "behavior: ", log.LstdFlags))

	emotionRules := make(map[adapters.Emotion]string, len(doc.BehaviorRules.EmotionExperienceIDs))
	for emotion, expID := range doc.BehaviorRules.EmotionExperienceIDs {
		emotionRules[adapters.Emotion(emotion)] = expID
	}
	for _, r := range behavior.StandardRules(behavior.RuleTableConfig{
		ProtectiveExperienceID:         doc.BehaviorRules.ProtectiveExperienceID,
		GentleCaretakerExperienceID:    doc.BehaviorRules.GentleCaretakerExperienceID,
		PlayfulEntertainerExperienceID: doc.BehaviorRules.PlayfulEntertainerExperienceID,
		SocialGroupThreshold:           doc.BehaviorRules.SocialGroupThreshold,
		EmotionExperienceIDs:           emotionRules,
	}) {
		selector.AddRule(r)
	}
	selector.ConfigureIdle(doc.BehaviorRules.IdleExperienceIDs, doc.BehaviorRules.IdleTimeoutSec)
	selector.Start()

	supervisor := safety.New(doc.SafetyLimits, jointTable, sched, servoBus, bus, realClock, log.New(os.Stdout, "safety: ", log.LstdFlags), incidents)

	stopObservations := make(chan struct{})
	go runObservationLoop(bus, supervisor, selector, stopObservations)

	stopTelemetry := make(chan struct{})
	hub := telemetry.NewHub(log.New(os.Stdout, "telemetry: ", log.LstdFlags))
	publisher := telemetry.NewPublisher(hub, sched, supervisor, bus, realClock, 200*time.Millisecond)
	go publisher.Run(stopTelemetry)

	stopTick := make(chan struct{})
	go runMotionLoop(sched, supervisor, stopTick)

	handler, shutdownAPI, err := httpapi.NewHandler(cfg, cfg.OperatorSecret, httpapi.Deps{
		Joints:      jointTable,
		Scheduler:   sched,
		Safety:      supervisor,
		Coordinator: coordinator,
		Selector:    selector,
		Personality: personality,
		Bus:         bus,
		Incidents:   incidents,
		Guests:      guests,
		Experiences: experiences,
		Telemetry:   hub,
	})
	if err != nil {
		log.Fatalf("http api init error: %v", err)
	}

	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		log.Printf("shutdown signal received, halting motion before exit")
		sched.ApplyDirective(eventbus.SafetyDirective{
			Severity:        eventbus.SeverityEmergency,
			Reason:          "process shutdown",
			AffectedJoints:  []string{eventbus.AllJoints},
			RequiredActions: []eventbus.RequiredAction{eventbus.ActionHalt},
		})

		close(stopTick)
		close(stopTelemetry)
		close(stopObservations)
		selector.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownAPI(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := dbPair.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}()

	log.Printf("animatronic-kernel listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// runObservationLoop drains the event bus's guest observation channel,
// feeding the safety supervisor's proximity check and the behavior
// selector's rule table from the same sensed reading.
func runObservationLoop(bus *eventbus.Bus, supervisor *safety.Supervisor, selector *behavior.Selector, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case obs := <-bus.Observations():
			supervisor.ObserveGuest(obs)
			if _, err := selector.Evaluate(context.Background(), obs); err != nil {
				log.Printf("behavior: evaluate failed: %v", err)
			}
		}
	}
}

// runMotionLoop drives the scheduler's fixed tick and, on its own slower
// interval, the safety supervisor's evaluation pass. Both read the
// interval fresh each iteration so SetTickRate and severity-graded
// evaluation frequency changes take effect without a restart.
func runMotionLoop(sched *scheduler.Scheduler, supervisor *safety.Supervisor, stop <-chan struct{}) {
	lastSafetyCheck := time.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}

		tickStart := sched.Tick()
		supervisor.Heartbeat()

		if time.Since(lastSafetyCheck) >= supervisor.EvaluationInterval() {
			supervisor.Evaluate(context.Background())
			lastSafetyCheck = time.Now()
		}

		elapsed := time.Since(tickStart)
		sleep := (time.Second / 50) - elapsed
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}
}
