package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenByUserDay returns the token issued to email on day.
func (s *Store) TokenByUserDay(ctx context.Context, email, day string) (*Token, error) {
	var t Token
	err := s.conn(ctx).Where("user_email = ? AND day = ?", NormalizeEmail(email), day).First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// TokenByValue returns the token with value on day.
func (s *Store) TokenByValue(ctx context.Context, value, day string) (*Token, error) {
	var t Token
	err := s.conn(ctx).Where("token = ? AND day = ?", value, day).First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// InsertToken creates t. A clash on (token, day) or (user, day) yields
// ErrDuplicate.
func (s *Store) InsertToken(ctx context.Context, t *Token) error {
	t.UserEmail = NormalizeEmail(t.UserEmail)
	t.ExpiresAt = t.ExpiresAt.UTC()
	return translate(s.conn(ctx).Create(t).Error)
}

// PaidTolerance absorbs float rounding when comparing rupee amounts.
const PaidTolerance = 0.005

// UpdateTokenMeals replaces the aggregated meal list and total of the token.
// A paid token whose new total exceeds what was paid drops back to unpaid.
// A non-zero expiresAt extends the expiry.
func (s *Store) UpdateTokenMeals(ctx context.Context, id uuid.UUID, meals []LineItem, total float64, expiresAt time.Time) error {
	updates := map[string]any{
		"meals":        JSONLines(meals),
		"total_amount": total,
		"paid":         gorm.Expr("paid AND paid_amount >= ?", total-PaidTolerance),
	}
	if !expiresAt.IsZero() {
		updates["expires_at"] = expiresAt.UTC()
	}
	res := s.conn(ctx).Model(&Token{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTokenPaid records a payment on an unpaid, unverified token and adds
// amount to what was already paid. It returns false when the token was
// already paid or verified.
func (s *Store) MarkTokenPaid(ctx context.Context, id uuid.UUID, amount float64, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&Token{}).
		Where("id = ? AND paid = ? AND verified = ?", id, false, false).
		Updates(map[string]any{
			"paid":        true,
			"paid_amount": gorm.Expr("paid_amount + ?", amount),
			"paid_at":     at.UTC(),
		})
	return res.RowsAffected == 1, translate(res.Error)
}

// MarkTokenVerified sets an unverified token paid and verified. It returns
// false when the token was already verified.
func (s *Store) MarkTokenVerified(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&Token{}).
		Where("id = ? AND verified = ?", id, false).
		Updates(map[string]any{
			"paid":        true,
			"verified":    true,
			"verified_at": at.UTC(),
		})
	return res.RowsAffected == 1, translate(res.Error)
}

// MaxSeq returns the highest sequence stored for day, or 0.
func (s *Store) MaxSeq(ctx context.Context, day string) (int, error) {
	var highest int
	err := s.conn(ctx).Model(&Token{}).Where("day = ?", day).Select("COALESCE(MAX(seq), 0)").Scan(&highest).Error
	if err != nil {
		return 0, translate(err)
	}
	return highest, nil
}

// ReserveSeq increments the counter for day and returns the new value. The
// first reservation of a day starts after the highest stored sequence. Two
// callers creating the same day's counter at once race on its primary key;
// the loser gets ErrDuplicate.
func (s *Store) ReserveSeq(ctx context.Context, day string) (int, error) {
	var seq int
	err := s.Tx(ctx, func(tx *Store) error {
		db := tx.conn(ctx)
		res := db.Model(&TokenCounter{}).Where("day = ?", day).
			Update("last_seq", gorm.Expr("last_seq + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			base, err := tx.MaxSeq(ctx, day)
			if err != nil {
				return err
			}
			counter := TokenCounter{Day: day, LastSeq: base + 1}
			if err := db.Create(&counter).Error; err != nil {
				return err
			}
			seq = counter.LastSeq
			return nil
		}
		var counter TokenCounter
		if err := db.Where("day = ?", day).First(&counter).Error; err != nil {
			return err
		}
		seq = counter.LastSeq
		return nil
	})
	if err != nil {
		return 0, translate(err)
	}
	return seq, nil
}

// DeleteExpiredTokens removes unverified tokens that expired before now.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res := s.conn(ctx).
		Where("expires_at < ? AND verified = ?", now.UTC(), false).
		Delete(&Token{})
	return res.RowsAffected, translate(res.Error)
}

// DeleteCountersBefore drops sequence counters of days before day.
func (s *Store) DeleteCountersBefore(ctx context.Context, day string) (int64, error) {
	res := s.conn(ctx).Where("day < ?", day).Delete(&TokenCounter{})
	return res.RowsAffected, translate(res.Error)
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicate reports whether err is ErrDuplicate.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }
