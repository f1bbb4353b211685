package store

import "context"

// LogNotification appends an audit row.
func (s *Store) LogNotification(ctx context.Context, n *NotificationLog) error {
	n.SentAt = n.SentAt.UTC()
	return translate(s.conn(ctx).Create(n).Error)
}

// NotificationLogs returns the rows recorded for email, newest first.
func (s *Store) NotificationLogs(ctx context.Context, email string) ([]NotificationLog, error) {
	var logs []NotificationLog
	err := s.conn(ctx).
		Where("user_email = ?", NormalizeEmail(email)).
		Order("sent_at DESC").
		Find(&logs).Error
	return logs, translate(err)
}
