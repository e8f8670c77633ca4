package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))
	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		source TEXT,
		content_type TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS knowledge_chunks (
		text_id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES knowledge_documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON knowledge_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS attractions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		location TEXT,
		latitude REAL,
		longitude REAL,
		category TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attractions_name ON attractions(name);

	CREATE TABLE IF NOT EXISTS characters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		style TEXT,
		prompt TEXT,
		voice TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		character_id INTEGER,
		query_text TEXT NOT NULL,
		response_text TEXT,
		interaction_type TEXT NOT NULL,
		use_rag INTEGER NOT NULL DEFAULT 1,
		vector_hits INTEGER NOT NULL DEFAULT 0,
		graph_hits INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id);
	CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// SaveDocument stores a document and its chunks in one transaction,
// replacing any earlier chunks of the same document.
func (c *Client) SaveDocument(ctx context.Context, doc *models.KnowledgeDocument, chunks []models.KnowledgeChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO knowledge_documents (id, title, source, content_type, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			source = excluded.source,
			content_type = excluded.content_type,
			chunk_count = excluded.chunk_count`,
		doc.ID, doc.Title, doc.Source, doc.ContentType, len(chunks), doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO knowledge_chunks (text_id, doc_id, chunk_index, text, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ch.TextID, doc.ID, ch.ChunkIndex, ch.Text, string(meta), ch.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.TextID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	logger.Debug("Document saved", zap.String("doc_id", doc.ID), zap.Int("chunks", len(chunks)))
	return nil
}

// ChunkIDs lists the text ids belonging to a document.
func (c *Client) ChunkIDs(ctx context.Context, docID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT text_id FROM knowledge_chunks WHERE doc_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteDocument removes a document and its chunks.
func (c *Client) DeleteDocument(ctx context.Context, docID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// PRAGMA foreign_keys is per connection, so the cascade is not relied on.
	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM knowledge_documents WHERE id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ChunkTexts returns text for the given ids; unknown ids are absent.
func (c *Client) ChunkTexts(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT text_id, text FROM knowledge_chunks WHERE text_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk texts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk text: %w", err)
		}
		out[id] = text
	}
	return out, rows.Err()
}

func (c *Client) InsertAttraction(ctx context.Context, a *models.Attraction) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO attractions (name, description, location, latitude, longitude, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.Description, a.Location, a.Latitude, a.Longitude, a.Category, a.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attraction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read attraction id: %w", err)
	}
	a.ID = id
	return id, nil
}

func (c *Client) ListAttractions(ctx context.Context) ([]models.Attraction, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), COALESCE(location, ''), latitude, longitude,
		       COALESCE(category, ''), created_at
		FROM attractions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list attractions: %w", err)
	}
	defer rows.Close()

	var out []models.Attraction
	for rows.Next() {
		var (
			a        models.Attraction
			lat, lng sql.NullFloat64
			created  int64
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Location, &lat, &lng, &a.Category, &created); err != nil {
			return nil, fmt.Errorf("failed to scan attraction: %w", err)
		}
		if lat.Valid {
			a.Latitude = &lat.Float64
		}
		if lng.Valid {
			a.Longitude = &lng.Float64
		}
		a.CreatedAt = time.Unix(created, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttractionNames feeds the entity gazetteer.
func (c *Client) AttractionNames(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT name FROM attractions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list attraction names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan attraction name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (c *Client) InsertCharacter(ctx context.Context, ch *models.Character) (int64, error) {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO characters (name, description, style, prompt, voice, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ch.Name, ch.Description, ch.Style, ch.Prompt, ch.Voice, ch.IsActive, ch.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert character: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read character id: %w", err)
	}
	ch.ID = id
	return id, nil
}

func (c *Client) GetCharacter(ctx context.Context, id int64) (*models.Character, error) {
	var (
		ch      models.Character
		created int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), COALESCE(style, ''), COALESCE(prompt, ''),
		       COALESCE(voice, ''), is_active, created_at
		FROM characters WHERE id = ?`, id,
	).Scan(&ch.ID, &ch.Name, &ch.Description, &ch.Style, &ch.Prompt, &ch.Voice, &ch.IsActive, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get character: %w", err)
	}
	ch.CreatedAt = time.Unix(created, 0)
	return &ch, nil
}

// Persona returns the prompt of an active character.
func (c *Client) Persona(ctx context.Context, characterID int64) (string, error) {
	ch, err := c.GetCharacter(ctx, characterID)
	if err != nil {
		return "", err
	}
	if !ch.IsActive {
		return "", ErrNotFound
	}
	prompt := ch.Prompt
	if ch.Style != "" {
		prompt = strings.TrimSpace(prompt + "\n说话风格：" + ch.Style)
	}
	return prompt, nil
}

func (c *Client) RecordInteraction(ctx context.Context, in *models.Interaction) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO interactions (session_id, character_id, query_text, response_text, interaction_type,
			use_rag, vector_hits, graph_hits, degraded, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.SessionID, in.CharacterID, in.QueryText, in.ResponseText, string(in.InteractionType),
		in.UseRAG, in.VectorHits, in.GraphHits, in.Degraded, in.LatencyMS, in.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	in.ID, _ = res.LastInsertId()
	return nil
}

// Interactions pages through logged exchanges, newest first. An empty
// sessionID lists all sessions.
func (c *Client) Interactions(ctx context.Context, sessionID string, limit, offset int) ([]models.Interaction, int, error) {
	where, args := "", []any{}
	if sessionID != "" {
		where, args = "WHERE session_id = ?", append(args, sessionID)
	}

	var total int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count interactions: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, session_id, character_id, query_text, COALESCE(response_text, ''), interaction_type,
		       use_rag, vector_hits, graph_hits, degraded, COALESCE(latency_ms, 0), created_at
		FROM interactions `+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var out []models.Interaction
	for rows.Next() {
		var (
			in      models.Interaction
			charID  sql.NullInt64
			typ     string
			created int64
		)
		if err := rows.Scan(&in.ID, &in.SessionID, &charID, &in.QueryText, &in.ResponseText, &typ,
			&in.UseRAG, &in.VectorHits, &in.GraphHits, &in.Degraded, &in.LatencyMS, &created); err != nil {
			return nil, 0, fmt.Errorf("failed to scan interaction: %w", err)
		}
		if charID.Valid {
			in.CharacterID = &charID.Int64
		}
		in.InteractionType = models.InteractionType(typ)
		in.CreatedAt = time.Unix(created, 0)
		out = append(out, in)
	}
	return out, total, rows.Err()
}
