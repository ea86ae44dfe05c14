package memory

import (
	"context"
	"fmt"
	"strings"
)

// Capabilities are the optional parts of the schema detected at startup.
// Missing capabilities degrade behavior instead of failing requests.
type Capabilities struct {
	// LexicalIndex is true when the memories_fts full-text table exists.
	LexicalIndex bool `json:"lexical_index"`
	// LexicalEngine is "fts5" or "fts4" when LexicalIndex is true.
	LexicalEngine string `json:"lexical_engine,omitempty"`
	// DecayColumns is true when decay_policy, is_protected and
	// decay_anchor_at exist on memories.
	DecayColumns bool `json:"decay_columns"`
	// Reactions is true when the reaction tables and engagement columns exist.
	Reactions bool `json:"reactions"`
}

// ProbeCapabilities inspects the schema and caches the result for the
// lifetime of the store.
func (s *Store) ProbeCapabilities(ctx context.Context) (Capabilities, error) {
	caps, err := s.probe(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("method", "ProbeCapabilities").Msg("Capability probe failed")
		return Capabilities{}, newError(ErrorKindCapability, "ProbeCapabilities", "probe schema", err)
	}
	s.capsMu.Lock()
	s.caps = &caps
	s.capsMu.Unlock()
	s.logger.Info().
		Bool("lexical_index", caps.LexicalIndex).
		Str("lexical_engine", caps.LexicalEngine).
		Bool("decay_columns", caps.DecayColumns).
		Bool("reactions", caps.Reactions).
		Msg("Store capabilities probed")
	return caps, nil
}

// Capabilities returns the cached capabilities, probing once if they have
// not been probed yet. A failed probe reports nothing available.
func (s *Store) Capabilities(ctx context.Context) Capabilities {
	s.capsMu.Lock()
	cached := s.caps
	s.capsMu.Unlock()
	if cached != nil {
		return *cached
	}
	caps, err := s.ProbeCapabilities(ctx)
	if err != nil {
		return Capabilities{}
	}
	return caps
}

func (s *Store) probe(ctx context.Context) (Capabilities, error) {
	var caps Capabilities

	columns, err := s.tableColumns(ctx, "memories")
	if err != nil {
		return caps, err
	}
	caps.DecayColumns = columns["decay_policy"] && columns["is_protected"] && columns["decay_anchor_at"]

	tables, err := s.tableSQL(ctx)
	if err != nil {
		return caps, err
	}
	_, hasLinks := tables["message_memory_links"]
	_, hasReactions := tables["reactions"]
	caps.Reactions = hasLinks && hasReactions && columns["reaction_summary"] &&
		columns["reaction_confidence_boost"] && columns["reaction_aggregated_at"]

	if ddl, ok := tables[lexicalTable]; ok {
		caps.LexicalIndex = true
		caps.LexicalEngine = "fts4"
		if strings.Contains(strings.ToLower(ddl), "fts5") {
			caps.LexicalEngine = "fts5"
		}
	}
	return caps, nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func (s *Store) tableSQL(ctx context.Context) (map[string]string, error) {
	queryStr, args, err := StatementBuilder().
		Select("name", "COALESCE(sql, '')").
		From("sqlite_master").
		Where("type = 'table'").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sqlite_master query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	tables := make(map[string]string)
	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, fmt.Errorf("scan sqlite_master: %w", err)
		}
		tables[name] = ddl
	}
	return tables, rows.Err()
}

const lexicalTable = "memories_fts"

var fts5Schema = []string{
	`CREATE VIRTUAL TABLE memories_fts USING fts5(summary, raw_context, content='memories', content_rowid='rowid')`,
	`CREATE TRIGGER memories_fts_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, summary, raw_context) VALUES (new.rowid, new.summary, new.raw_context);
	END`,
	`CREATE TRIGGER memories_fts_ad AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, summary, raw_context) VALUES ('delete', old.rowid, old.summary, old.raw_context);
	END`,
	`CREATE TRIGGER memories_fts_au AFTER UPDATE OF summary, raw_context ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, summary, raw_context) VALUES ('delete', old.rowid, old.summary, old.raw_context);
		INSERT INTO memories_fts(rowid, summary, raw_context) VALUES (new.rowid, new.summary, new.raw_context);
	END`,
	`INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')`,
}

var fts4Schema = []string{
	`CREATE VIRTUAL TABLE memories_fts USING fts4(content="memories", summary, raw_context)`,
	`CREATE TRIGGER memories_fts_bu BEFORE UPDATE OF summary, raw_context ON memories BEGIN
		DELETE FROM memories_fts WHERE docid = old.rowid;
	END`,
	`CREATE TRIGGER memories_fts_bd BEFORE DELETE ON memories BEGIN
		DELETE FROM memories_fts WHERE docid = old.rowid;
	END`,
	`CREATE TRIGGER memories_fts_au AFTER UPDATE OF summary, raw_context ON memories BEGIN
		INSERT INTO memories_fts(docid, summary, raw_context) VALUES (new.rowid, new.summary, new.raw_context);
	END`,
	`CREATE TRIGGER memories_fts_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(docid, summary, raw_context) VALUES (new.rowid, new.summary, new.raw_context);
	END`,
	`INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')`,
}

// EnsureLexicalIndex creates the full-text index over summary and
// raw_context if it does not exist, trying FTS5 first and then FTS4. It
// returns the engine in use, or "" when neither is compiled into SQLite.
// Callers should re-probe capabilities afterwards.
func (s *Store) EnsureLexicalIndex(ctx context.Context) string {
	tables, err := s.tableSQL(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("method", "EnsureLexicalIndex").Msg("Could not inspect schema; lexical search disabled")
		return ""
	}
	if ddl, ok := tables[lexicalTable]; ok {
		if strings.Contains(strings.ToLower(ddl), "fts5") {
			return "fts5"
		}
		return "fts4"
	}

	for _, engine := range []struct {
		name   string
		schema []string
	}{{"fts5", fts5Schema}, {"fts4", fts4Schema}} {
		if err := s.execSchema(ctx, engine.schema); err != nil {
			s.logger.Debug().Err(err).Str("engine", engine.name).Msg("Full-text engine unavailable")
			continue
		}
		s.logger.Info().Str("engine", engine.name).Msg("Lexical index ready")
		return engine.name
	}
	s.logger.Warn().Msg("No full-text engine available; retrieval will be semantic-only")
	return ""
}

func (s *Store) execSchema(ctx context.Context, stmts []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}
