package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

// AddSourceChannel registers a source channel for the account. Returns
// false if the channel is already present.
func (s *Store) AddSourceChannel(ctx context.Context, accountID string, chatID int64, title string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO source_channels (account_id, chat_id, title)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, chat_id) DO NOTHING`,
		accountID, chatID, strings.TrimSpace(title),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveSourceChannel deletes a source channel; absent is a no-op.
func (s *Store) RemoveSourceChannel(ctx context.Context, accountID string, chatID int64) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM source_channels WHERE account_id = $1 AND chat_id = $2",
		accountID, chatID,
	)
	return err
}

// ListSourceChannels returns the account's source channels.
func (s *Store) ListSourceChannels(ctx context.Context, accountID string) ([]SourceChannel, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, account_id, chat_id, title FROM source_channels WHERE account_id = $1 ORDER BY id",
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]SourceChannel, 0)
	for rows.Next() {
		var ch SourceChannel
		if err := rows.Scan(&ch.ID, &ch.AccountID, &ch.ChatID, &ch.Title); err != nil {
			return nil, err
		}
		items = append(items, ch)
	}
	return items, rows.Err()
}

// AddDestinationChannel registers a destination channel for the account.
// Returns false if the channel is already present.
func (s *Store) AddDestinationChannel(ctx context.Context, accountID string, chatID int64, title string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO destination_channels (account_id, chat_id, title)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, chat_id) DO NOTHING`,
		accountID, chatID, strings.TrimSpace(title),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveDestinationChannel deletes a destination channel; its topic
// allow-list goes with it (cascade). Absent is a no-op.
func (s *Store) RemoveDestinationChannel(ctx context.Context, accountID string, chatID int64) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM destination_channels WHERE account_id = $1 AND chat_id = $2",
		accountID, chatID,
	)
	return err
}

// UpdateDestinationSettings sets the rewrite prompt, image prompt, and
// image flag for a destination channel.
func (s *Store) UpdateDestinationSettings(ctx context.Context, accountID string, chatID int64, rewritePrompt, imagePrompt string, includeImage bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE destination_channels
		 SET rewrite_prompt = $3, image_prompt = $4, include_image = $5
		 WHERE account_id = $1 AND chat_id = $2`,
		accountID, chatID, rewritePrompt, imagePrompt, includeImage,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const destinationColumns = "id, account_id, chat_id, title, rewrite_prompt, image_prompt, include_image"

// GetDestinationChannel loads one destination channel.
func (s *Store) GetDestinationChannel(ctx context.Context, accountID string, chatID int64) (DestinationChannel, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+destinationColumns+" FROM destination_channels WHERE account_id = $1 AND chat_id = $2",
		accountID, chatID,
	)
	var ch DestinationChannel
	err := row.Scan(&ch.ID, &ch.AccountID, &ch.ChatID, &ch.Title, &ch.RewritePrompt, &ch.ImagePrompt, &ch.IncludeImage)
	if errors.Is(err, pgx.ErrNoRows) {
		return DestinationChannel{}, ErrNotFound
	}
	if err != nil {
		return DestinationChannel{}, err
	}
	return ch, nil
}

// ListDestinationChannels returns the account's destination channels.
func (s *Store) ListDestinationChannels(ctx context.Context, accountID string) ([]DestinationChannel, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+destinationColumns+" FROM destination_channels WHERE account_id = $1 ORDER BY id",
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDestinationChannels(rows)
}

// ListDestinationsWithTopics returns every destination channel together
// with its topic allow-list, for fan-out routing.
func (s *Store) ListDestinationsWithTopics(ctx context.Context) ([]Destination, error) {
	rows, err := s.db.Query(ctx, "SELECT "+destinationColumns+" FROM destination_channels ORDER BY id")
	if err != nil {
		return nil, err
	}
	channels, err := func() ([]DestinationChannel, error) {
		defer rows.Close()
		return scanDestinationChannels(rows)
	}()
	if err != nil {
		return nil, err
	}

	topicRows, err := s.db.Query(ctx,
		`SELECT dt.destination_id, t.name
		 FROM destination_topics dt
		 JOIN topics t ON t.id = dt.topic_id`,
	)
	if err != nil {
		return nil, err
	}
	defer topicRows.Close()
	allowed := map[int64][]string{}
	for topicRows.Next() {
		var destID int64
		var name string
		if err := topicRows.Scan(&destID, &name); err != nil {
			return nil, err
		}
		allowed[destID] = append(allowed[destID], name)
	}
	if err := topicRows.Err(); err != nil {
		return nil, err
	}

	items := make([]Destination, 0, len(channels))
	for _, ch := range channels {
		items = append(items, Destination{
			DestinationChannel: ch,
			Topics:             allowed[ch.ID],
		})
	}
	return items, nil
}

func scanDestinationChannels(rows pgx.Rows) ([]DestinationChannel, error) {
	items := make([]DestinationChannel, 0)
	for rows.Next() {
		var ch DestinationChannel
		if err := rows.Scan(&ch.ID, &ch.AccountID, &ch.ChatID, &ch.Title, &ch.RewritePrompt, &ch.ImagePrompt, &ch.IncludeImage); err != nil {
			return nil, err
		}
		items = append(items, ch)
	}
	return items, rows.Err()
}
