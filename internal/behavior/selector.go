package behavior

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rolojard/animatronic-kernel/internal/adapters"
	"github.com/rolojard/animatronic-kernel/internal/clock"
	"github.com/rolojard/animatronic-kernel/internal/config"
	"github.com/rolojard/animatronic-kernel/internal/persistence"
	"github.com/rolojard/animatronic-kernel/internal/timeline"
)

// DefaultMagicMomentProbability is the chance applied to every qualifying
// encounter (there is no per-experience override); calibrated so a magic
// moment fires roughly once every six or seven qualifying encounters.
const DefaultMagicMomentProbability = 0.15

// Player is the narrow view of the timeline coordinator the selector
// needs, kept as an interface so tests can substitute a recorder.
type Player interface {
	Play(ctx context.Context, exp timeline.Experience) error
}

// Rule is one priority-ordered selection rule. Match inspects the guest
// observation and decides whether this rule applies; the first matching
// rule (in descending Priority order, ties broken by registration order)
// whose experience isn't in cooldown wins.
type Rule struct {
	Name         string
	Priority     int
	ExperienceID string
	Match        func(obs adapters.GuestObservation) bool
	// Intensity, if set, becomes the active PersonalityState intensity
	// when this rule wins. Nil leaves the currently active intensity.
	Intensity *Intensity
	// MaxIntensity, if set, caps the resulting intensity (rule 2's
	// "cap intensity at Moderate").
	MaxIntensity *Intensity
}

// Selector implements priority-ordered experience selection plus the
// showtime calendar.
type Selector struct {
	rules        []Rule
	experiences  map[string]timeline.Experience
	catalog      map[string]config.ExperienceDef
	player       Player
	personality  *PersonalityState
	guests       *persistence.GuestStore
	clock        clock.Clock
	logger       *log.Logger
	rng          *rand.Rand
	cron         *cron.Cron

	mu           sync.Mutex
	lastPlayed   map[string]time.Time
	lastActivity time.Time

	idleTimeoutSec    float64
	idleExperienceIDs map[string]string
	idleFired         bool
	idleStop          chan struct{}
}

// New builds a Selector. guests may be nil to run without per-guest
// magic-moment history (magic moments are then evaluated stateless).
func New(experiences map[string]timeline.Experience, catalog map[string]config.ExperienceDef, player Player, personality *PersonalityState, guests *persistence.GuestStore, clk clock.Clock, logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.Default()
	}
	return &Selector{
		experiences:    experiences,
		catalog:        catalog,
		player:         player,
		personality:    personality,
		guests:         guests,
		clock:          clk,
		logger:         logger,
		rng:            rand.New(rand.NewSource(1)),
		cron:           cron.New(),
		lastPlayed:     make(map[string]time.Time),
		lastActivity:   clk.Now(),
		idleTimeoutSec: DefaultIdleTimeoutSec,
	}
}

// DefaultIdleTimeoutSec is used when ConfigureIdle isn't called, per
// §4.6 ("idle_timeout_s (default 15)").
const DefaultIdleTimeoutSec = 15.0

// ConfigureIdle sets rule 6's idle animation table: experienceIDs maps
// a personality mode to the idle experience id that plays for it, with
// "" as the fallback for any mode not present. timeoutSec<=0 keeps the
// default.
func (s *Selector) ConfigureIdle(experienceIDs map[string]string, timeoutSec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleExperienceIDs = experienceIDs
	if timeoutSec > 0 {
		s.idleTimeoutSec = timeoutSec
	}
}

// AddRule registers a selection rule. Rules are re-sorted by descending
// priority on every add, stable on insertion order for ties.
func (s *Selector) AddRule(r Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, r)
	sort.SliceStable(s.rules, func(i, j int) bool { return s.rules[i].Priority > s.rules[j].Priority })
}

// Evaluate runs the rule table against one guest observation, playing
// the first matching, non-cooled-down experience. Returns the played
// experience id, or "" if nothing matched or everything was in cooldown.
func (s *Selector) Evaluate(ctx context.Context, obs adapters.GuestObservation) (string, error) {
	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.idleFired = false
	rules := make([]Rule, len(s.rules))
	copy(rules, s.rules)
	s.mu.Unlock()

	for _, r := range rules {
		if !r.Match(obs) {
			continue
		}
		if s.inCooldown(r.ExperienceID) {
			continue
		}

		expID := s.maybeUpgradeToMagicMoment(ctx, r.ExperienceID, obs)
		recognized := obs.RecognitionID != ""
		if expID == r.ExperienceID {
			// Magic moment didn't substitute; a recognized returning
			// guest still gets the "warm recognition" greeting variant
			// (rule 4) if the catalog carries one.
			expID = s.applyRecognitionVariant(expID, recognized)
		}
		s.applyIntensity(r, recognized)

		if err := s.play(ctx, expID); err != nil {
			return "", err
		}
		return expID, nil
	}
	return "", nil
}

// recognitionVariantSuffix names the catalog entry substituted for a
// base experience when a recognized returning guest is present.
const recognitionVariantSuffix = "_warm_recognition"

func (s *Selector) applyRecognitionVariant(baseID string, recognized bool) string {
	if !recognized {
		return baseID
	}
	variant := baseID + recognitionVariantSuffix
	if _, ok := s.experiences[variant]; ok {
		return variant
	}
	return baseID
}

// applyIntensity sets the winning rule's intensity (capped, if the rule
// caps it), then raises it one more step for a recognized returning
// guest (rule 4: "raise intensity by one step").
func (s *Selector) applyIntensity(r Rule, recognized bool) {
	if s.personality == nil {
		return
	}
	target := s.personality.Intensity()
	if r.Intensity != nil {
		target = *r.Intensity
	}
	if r.MaxIntensity != nil {
		target = target.Cap(*r.MaxIntensity)
	}
	if recognized {
		target = target.Step(1)
	}
	s.personality.SetIntensity(target)
}

// maybeUpgradeToMagicMoment checks whether the selected experience (or a
// qualifying alternate magic-moment experience) should instead play a
// designated magic-moment variant for a recognized, qualifying guest.
func (s *Selector) maybeUpgradeToMagicMoment(ctx context.Context, baseExperienceID string, obs adapters.GuestObservation) string {
	def, ok := s.catalog[baseExperienceID]
	if !ok || def.IsMagicMoment {
		return baseExperienceID
	}
	if obs.RecognitionID == "" || s.guests == nil {
		return baseExperienceID
	}

	rel, err := s.guests.Touch(ctx, obs.RecognitionID, string(obs.AgeGroup), string(obs.Emotion))
	if err != nil {
		s.logger.Printf("behavior: guest touch failed: %v", err)
		return baseExperienceID
	}
	if rel.VisitCount < 2 {
		return baseExperienceID
	}

	for id, cand := range s.catalog {
		if !cand.IsMagicMoment || s.inCooldown(id) {
			continue
		}
		if cand.MinAgeGroup != "" && cand.MinAgeGroup != string(obs.AgeGroup) {
			continue
		}
		if !emotionQualifies(cand.RequiredEmotions, string(obs.Emotion)) {
			continue
		}
		if s.rng.Float64() < DefaultMagicMomentProbability {
			_ = s.guests.RecordMagicMoment(ctx, obs.RecognitionID)
			return id
		}
	}
	return baseExperienceID
}

func emotionQualifies(required []string, observed string) bool {
	if len(required) == 0 {
		return true
	}
	for _, e := range required {
		if e == observed {
			return true
		}
	}
	return false
}

func (s *Selector) inCooldown(experienceID string) bool {
	def, ok := s.catalog[experienceID]
	if !ok || def.CooldownSec <= 0 {
		return false
	}
	s.mu.Lock()
	last, played := s.lastPlayed[experienceID]
	s.mu.Unlock()
	if !played {
		return false
	}
	return s.clock.Now().Sub(last).Seconds() < def.CooldownSec
}

func (s *Selector) play(ctx context.Context, experienceID string) error {
	exp, ok := s.experiences[experienceID]
	if !ok {
		return &UnknownExperienceError{ID: experienceID}
	}
	if err := s.player.Play(ctx, exp); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastPlayed[experienceID] = s.clock.Now()
	s.mu.Unlock()
	return nil
}

// ScheduleShowtime registers a cron-triggered experience; spec follows
// the standard five-field cron syntax.
func (s *Selector) ScheduleShowtime(spec, experienceID string) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		if err := s.play(context.Background(), experienceID); err != nil {
			s.logger.Printf("behavior: showtime %s failed: %v", experienceID, err)
		}
	})
}

// idleCheckIntervalSec is how often the idle ticker polls; finer than
// the minimum sensible IdleTimeoutSec so a timeout is caught promptly.
const idleCheckIntervalSec = 1.0

// Start begins the cron scheduler's background goroutine plus rule 6's
// idle-timeout poller.
func (s *Selector) Start() {
	s.cron.Start()
	s.mu.Lock()
	s.idleStop = make(chan struct{})
	stop := s.idleStop
	s.mu.Unlock()
	go s.runIdleLoop(stop)
}

func (s *Selector) runIdleLoop(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-s.clock.After(time.Duration(idleCheckIntervalSec * float64(time.Second))):
			s.checkIdle(context.Background())
		}
	}
}

// checkIdle implements rule 6: if no observation has arrived for
// IdleTimeoutSec, play the idle animation matching the current
// personality mode (once per idle stretch: the idleFired flag, cleared by
// Evaluate when an observation arrives, keeps this from firing on every
// poll).
func (s *Selector) checkIdle(ctx context.Context) {
	s.mu.Lock()
	idle := s.clock.Now().Sub(s.lastActivity).Seconds() >= s.idleTimeoutSec
	alreadyFired := s.idleFired
	mode := ""
	if s.personality != nil {
		mode = s.personality.Mode()
	}
	expID, ok := s.idleExperienceIDs[mode]
	if !ok {
		expID = s.idleExperienceIDs[""]
	}
	s.mu.Unlock()

	if !idle || alreadyFired || expID == "" || s.inCooldown(expID) {
		return
	}
	if err := s.play(ctx, expID); err != nil {
		s.logger.Printf("behavior: idle animation %s failed: %v", expID, err)
		return
	}
	s.mu.Lock()
	s.idleFired = true
	s.mu.Unlock()
}

// Stop waits for any running cron job to finish, then stops the
// scheduler and the idle poller.
func (s *Selector) Stop() {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	stop := s.idleStop
	s.idleStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// UnknownExperienceError reports a selection rule or showtime entry
// referencing an experience id that isn't in the loaded catalog.
type UnknownExperienceError struct{ ID string }

func (e *UnknownExperienceError) Error() string { return "unknown experience: " + e.ID }
