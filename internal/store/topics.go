package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DefaultTopics is the fixed vocabulary seeded at bootstrap. The
// classifier only selects from it; topics are never invented at runtime.
var DefaultTopics = []string{
	"Politics", "Economy", "Technology", "Games", "Culture",
	"Health", "Sport", "Education", "Science", "Entertainment",
	"Artificial Intelligence", "Finance", "Business", "Law", "Incidents",
	"Ecology", "Cybersecurity", "Medicine", "Music", "Movies",
}

// SeedTopics inserts the vocabulary if the topics table is empty.
func (s *Store) SeedTopics(ctx context.Context, names []string) error {
	var count int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM topics").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, name := range names {
		if _, err := s.db.Exec(ctx,
			"INSERT INTO topics (name) VALUES ($1) ON CONFLICT (name) DO NOTHING", name,
		); err != nil {
			return err
		}
	}
	s.logger.Info("topic vocabulary seeded", slog.Int("topics", len(names)))
	return nil
}

// ListTopics returns the full topic vocabulary.
func (s *Store) ListTopics(ctx context.Context) ([]Topic, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name FROM topics ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]Topic, 0)
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// TopicNames returns the vocabulary as plain names, the classifier's
// candidate label space.
func (s *Store) TopicNames(ctx context.Context) ([]string, error) {
	topics, err := s.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Name)
	}
	return names, nil
}

func (s *Store) topicIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, "SELECT id FROM topics WHERE name = $1", strings.TrimSpace(name)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// AddTopicToDestination allows a topic for a destination channel. Returns
// false when the topic was already allowed; ErrNotFound when the channel
// or topic does not exist.
func (s *Store) AddTopicToDestination(ctx context.Context, accountID string, chatID int64, topicName string) (bool, error) {
	dest, err := s.GetDestinationChannel(ctx, accountID, chatID)
	if err != nil {
		return false, err
	}
	topicID, err := s.topicIDByName(ctx, topicName)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO destination_topics (destination_id, topic_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		dest.ID, topicID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveTopicFromDestination disallows a topic for a destination channel.
// Returns false when the topic was not on the allow-list.
func (s *Store) RemoveTopicFromDestination(ctx context.Context, accountID string, chatID int64, topicName string) (bool, error) {
	dest, err := s.GetDestinationChannel(ctx, accountID, chatID)
	if err != nil {
		return false, err
	}
	topicID, err := s.topicIDByName(ctx, topicName)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		"DELETE FROM destination_topics WHERE destination_id = $1 AND topic_id = $2",
		dest.ID, topicID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListTopicsForDestination returns a destination channel's allow-list.
func (s *Store) ListTopicsForDestination(ctx context.Context, accountID string, chatID int64) ([]string, error) {
	dest, err := s.GetDestinationChannel(ctx, accountID, chatID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT t.name
		 FROM destination_topics dt
		 JOIN topics t ON t.id = dt.topic_id
		 WHERE dt.destination_id = $1
		 ORDER BY t.name`,
		dest.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
