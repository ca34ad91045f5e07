package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreatePost persists one ingested message.
func (s *Store) CreatePost(ctx context.Context, chatID, messageID int64, text string) (Post, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO posts (chat_id, message_id, text)
		 VALUES ($1, $2, $3)
		 RETURNING id, chat_id, message_id, text, posted_at`,
		chatID, messageID, text,
	)
	var p Post
	if err := row.Scan(&p.ID, &p.ChatID, &p.MessageID, &p.Text, &p.PostedAt); err != nil {
		return Post{}, err
	}
	return p, nil
}

// GetPost loads one post by id.
func (s *Store) GetPost(ctx context.Context, postID int64) (Post, error) {
	row := s.db.QueryRow(ctx,
		"SELECT id, chat_id, message_id, text, posted_at FROM posts WHERE id = $1", postID,
	)
	var p Post
	err := row.Scan(&p.ID, &p.ChatID, &p.MessageID, &p.Text, &p.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, err
	}
	return p, nil
}

// AddPostTopics records the post's topic assignments. Unknown topic names
// are skipped; assignment happens once, right after classification.
func (s *Store) AddPostTopics(ctx context.Context, postID int64, topicNames []string) error {
	for _, name := range topicNames {
		topicID, err := s.topicIDByName(ctx, name)
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("skipping unknown topic", slog.String("topic", name), slog.Int64("post_id", postID))
			continue
		}
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(ctx,
			`INSERT INTO post_topics (post_id, topic_id)
			 VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			postID, topicID,
		); err != nil {
			return err
		}
	}
	return nil
}

// GetPostTopics returns the topic names assigned to a post.
func (s *Store) GetPostTopics(ctx context.Context, postID int64) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT t.name
		 FROM post_topics pt
		 JOIN topics t ON t.id = pt.topic_id
		 WHERE pt.post_id = $1
		 ORDER BY t.name`,
		postID,
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

// DeletePostsOlderThan removes posts (and their topic links, by cascade)
// posted before the cutoff. Returns the number of posts deleted.
func (s *Store) DeletePostsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM posts WHERE posted_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
