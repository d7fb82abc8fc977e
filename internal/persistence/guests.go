package persistence

import (
	"context"
	"database/sql"
	"errors"
)

// GuestRelationship tracks what the system remembers about one recurring
// guest, keyed by the recognition id the guest observer adapter assigns.
type GuestRelationship struct {
	RecognitionID         string
	AgeGroup              string
	VisitCount            int
	LastEmotion           sql.NullString
	LastSeenAt            string
	MagicMomentsTriggered int
	Notes                 sql.NullString
}

// GuestStore persists per-guest relationship state across visits, used by
// the behavior selector's visit-history gating of magic moments and its
// repeat-visitor bias.
type GuestStore struct {
	db *DBPair
}

func NewGuestStore(db *DBPair) *GuestStore { return &GuestStore{db: db} }

// Touch records a sighting: inserts a new relationship row on first sight,
// or increments visit_count and updates last_seen_at/last_emotion.
func (s *GuestStore) Touch(ctx context.Context, recognitionID, ageGroup, emotion string) (GuestRelationship, error) {
	existing, err := s.Get(ctx, recognitionID)
	now := nowISO()
	if errors.Is(err, sql.ErrNoRows) {
		rel := GuestRelationship{
			RecognitionID: recognitionID,
			AgeGroup:      ageGroup,
			VisitCount:    1,
			LastEmotion:   sql.NullString{String: emotion, Valid: emotion != ""},
			LastSeenAt:    now,
		}
		_, err := s.db.Writer().ExecContext(ctx, `
			INSERT INTO guest_relationships (recognition_id, age_group, visit_count, last_emotion, last_seen_at)
			VALUES (?, ?, 1, ?, ?)
		`, recognitionID, ageGroup, rel.LastEmotion, now)
		return rel, err
	}
	if err != nil {
		return GuestRelationship{}, err
	}

	existing.VisitCount++
	existing.LastEmotion = sql.NullString{String: emotion, Valid: emotion != ""}
	existing.LastSeenAt = now
	_, err = s.db.Writer().ExecContext(ctx, `
		UPDATE guest_relationships SET visit_count = ?, last_emotion = ?, last_seen_at = ? WHERE recognition_id = ?
	`, existing.VisitCount, existing.LastEmotion, now, recognitionID)
	return existing, err
}

// Get returns one guest's relationship record.
func (s *GuestStore) Get(ctx context.Context, recognitionID string) (GuestRelationship, error) {
	var rel GuestRelationship
	var notes sql.NullString
	err := s.db.Reader().QueryRowContext(ctx, `
		SELECT recognition_id, age_group, visit_count, last_emotion, last_seen_at, magic_moments_triggered, notes
		FROM guest_relationships WHERE recognition_id = ?
	`, recognitionID).Scan(&rel.RecognitionID, &rel.AgeGroup, &rel.VisitCount, &rel.LastEmotion, &rel.LastSeenAt, &rel.MagicMomentsTriggered, &notes)
	rel.Notes = notes
	return rel, err
}

// RecordMagicMoment increments the per-guest magic-moment counter. The
// counter is stored and returned by Get; the selector does not consult it
// when deciding whether to fire another magic moment.
func (s *GuestStore) RecordMagicMoment(ctx context.Context, recognitionID string) error {
	_, err := s.db.Writer().ExecContext(ctx, `
		UPDATE guest_relationships SET magic_moments_triggered = magic_moments_triggered + 1 WHERE recognition_id = ?
	`, recognitionID)
	return err
}
