package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

// IndexRepository reads the file and chunk index that the ingestion
// pipeline maintains. The engine only writes the schema, never the
// rows.
type IndexRepository struct {
	db *sql.DB
}

func NewIndexRepository(db *sql.DB) *IndexRepository {
	return &IndexRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *IndexRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026021002)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'generic',
	extension TEXT NOT NULL DEFAULT '',
	size BIGINT NOT NULL DEFAULT 0,
	has_embeddings BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	chunk_index INT NOT NULL DEFAULT 0,
	snippet TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	page_start INT NOT NULL DEFAULT 0,
	page_end INT NOT NULL DEFAULT 0,
	segment_caption TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_files_name ON files(lower(name));
CREATE INDEX IF NOT EXISTS idx_chunks_file_id ON chunks(file_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const fileColumns = `id, name, path, kind, extension, size, has_embeddings`

func (r *IndexRepository) FindFilesByName(ctx context.Context, name string) ([]domain.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE name ILIKE $1
ORDER BY name
LIMIT 20
`, "%"+name+"%")
	if err != nil {
		return nil, fmt.Errorf("find files by name: %w", err)
	}
	defer rows.Close()

	var files []domain.FileRecord
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

func (r *IndexRepository) GetFileByID(ctx context.Context, id string) (domain.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE id = $1
`, id)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FileRecord{}, domain.WrapError(domain.ErrNotFound, "get file", fmt.Errorf("file %s", id))
		}
		return domain.FileRecord{}, err
	}
	return file, nil
}

func (r *IndexRepository) GetFileByChunkID(ctx context.Context, chunkID string) (domain.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT f.id, f.name, f.path, f.kind, f.extension, f.size, f.has_embeddings
FROM files f
JOIN chunks c ON c.file_id = f.id
WHERE c.id = $1
`, chunkID)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FileRecord{}, domain.WrapError(domain.ErrNotFound, "get file by chunk", fmt.Errorf("chunk %s", chunkID))
		}
		return domain.FileRecord{}, err
	}
	return file, nil
}

func (r *IndexRepository) GetChunk(ctx context.Context, chunkID string) (domain.ChunkRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, file_id, chunk_index, snippet, summary, page_start, page_end, segment_caption
FROM chunks
WHERE id = $1
`, chunkID)

	var chunk domain.ChunkRecord
	err := row.Scan(
		&chunk.ID, &chunk.FileID, &chunk.Index, &chunk.Snippet, &chunk.Summary,
		&chunk.PageStart, &chunk.PageEnd, &chunk.SegmentCaption,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ChunkRecord{}, domain.WrapError(domain.ErrNotFound, "get chunk", fmt.Errorf("chunk %s", chunkID))
		}
		return domain.ChunkRecord{}, fmt.Errorf("scan chunk: %w", err)
	}
	return chunk, nil
}

func (r *IndexRepository) FilesWithEmbeddings(ctx context.Context) ([]domain.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE has_embeddings
ORDER BY name
`)
	if err != nil {
		return nil, fmt.Errorf("list files with embeddings: %w", err)
	}
	defer rows.Close()

	var files []domain.FileRecord
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

// SearchSnippets runs a term-based lexical search over chunk snippets.
// RequireAllTerms turns the term conditions into a conjunction; the
// score is the matched-term fraction.
func (r *IndexRepository) SearchSnippets(ctx context.Context, q domain.SnippetQuery) ([]domain.Hit, error) {
	terms := searchTerms(q.Query)
	if len(terms) == 0 {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 45
	}

	query, args := buildSnippetQuery(terms, q.RequireAllTerms, q.FileIDs, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search snippets: %w", err)
	}
	defer rows.Close()

	var hits []domain.Hit
	for rows.Next() {
		var (
			hit     domain.Hit
			name    string
			kind    string
			matched int
		)
		err := rows.Scan(
			&hit.ChunkID, &hit.FileID, &hit.Snippet, &hit.Summary,
			&hit.Provenance.PageStart, &hit.Provenance.PageEnd, &hit.Provenance.SegmentCaption,
			&name, &kind, &matched,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snippet hit: %w", err)
		}
		hit.Provenance.Name = name
		hit.Provenance.Kind = domain.KindForFile(kind)
		hit.Score = float64(matched) / float64(len(terms))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snippet hits: %w", err)
	}
	return hits, nil
}

func buildSnippetQuery(terms []string, requireAll bool, fileIDs []string, limit int) (string, []any) {
	args := make([]any, 0, len(terms)+len(fileIDs)+1)
	matchExprs := make([]string, 0, len(terms))
	termConds := make([]string, 0, len(terms))
	for _, term := range terms {
		args = append(args, "%"+term+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		matchExprs = append(matchExprs, fmt.Sprintf("(CASE WHEN c.snippet ILIKE %s THEN 1 ELSE 0 END)", placeholder))
		termConds = append(termConds, fmt.Sprintf("c.snippet ILIKE %s", placeholder))
	}

	joiner := " OR "
	if requireAll {
		joiner = " AND "
	}
	where := "(" + strings.Join(termConds, joiner) + ")"

	if len(fileIDs) > 0 {
		placeholders := make([]string, 0, len(fileIDs))
		for _, id := range fileIDs {
			args = append(args, id)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where += " AND c.file_id IN (" + strings.Join(placeholders, ", ") + ")"
	}

	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT c.id, c.file_id, c.snippet, c.summary, c.page_start, c.page_end, c.segment_caption,
	f.name, f.kind, %s AS matched
FROM chunks c
JOIN files f ON f.id = c.file_id
WHERE %s
ORDER BY matched DESC, c.id
LIMIT $%d
`, strings.Join(matchExprs, " + "), where, len(args))
	return query, args
}

// SearchFileSummaries matches query terms against chunk summaries and
// returns one hit per file, carrying the best-matching chunk. Backs the
// summary layer of the progressive search stream.
func (r *IndexRepository) SearchFileSummaries(ctx context.Context, query string, limit int, excludeFileIDs []string) ([]domain.Hit, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	sqlQuery, args := buildSummaryQuery(terms, excludeFileIDs, limit)
	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search file summaries: %w", err)
	}
	defer rows.Close()

	var hits []domain.Hit
	for rows.Next() {
		var (
			hit     domain.Hit
			name    string
			kind    string
			matched int
		)
		if err := rows.Scan(&hit.ChunkID, &hit.FileID, &hit.Summary, &name, &kind, &matched); err != nil {
			return nil, fmt.Errorf("scan summary hit: %w", err)
		}
		hit.Provenance.Name = name
		hit.Provenance.Kind = domain.KindForFile(kind)
		hit.Score = float64(matched) / float64(len(terms))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary hits: %w", err)
	}
	return hits, nil
}

// SearchFileMetadata matches query terms against file paths, extensions
// and kinds. Backs the metadata layer of the progressive search stream;
// hits are file-level, with no chunk.
func (r *IndexRepository) SearchFileMetadata(ctx context.Context, query string, limit int, excludeFileIDs []string) ([]domain.Hit, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	sqlQuery, args := buildMetadataQuery(terms, excludeFileIDs, limit)
	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search file metadata: %w", err)
	}
	defer rows.Close()

	var hits []domain.Hit
	for rows.Next() {
		var (
			hit     domain.Hit
			name    string
			path    string
			kind    string
			matched int
		)
		if err := rows.Scan(&hit.FileID, &name, &path, &kind, &matched); err != nil {
			return nil, fmt.Errorf("scan metadata hit: %w", err)
		}
		hit.Provenance.Name = name
		hit.Provenance.Path = path
		hit.Provenance.Kind = domain.KindForFile(kind)
		hit.Score = float64(matched) / float64(len(terms))
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata hits: %w", err)
	}
	return hits, nil
}

func buildSummaryQuery(terms []string, excludeFileIDs []string, limit int) (string, []any) {
	args := make([]any, 0, len(terms)+len(excludeFileIDs)+1)
	matchExprs := make([]string, 0, len(terms))
	termConds := make([]string, 0, len(terms))
	for _, term := range terms {
		args = append(args, "%"+term+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		matchExprs = append(matchExprs, fmt.Sprintf("(CASE WHEN c.summary ILIKE %s THEN 1 ELSE 0 END)", placeholder))
		termConds = append(termConds, fmt.Sprintf("c.summary ILIKE %s", placeholder))
	}

	where := "(" + strings.Join(termConds, " OR ") + ")"
	where += notInClause("c.file_id", excludeFileIDs, &args)

	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT DISTINCT ON (c.file_id) c.id, c.file_id, c.summary, f.name, f.kind, %s AS matched
FROM chunks c
JOIN files f ON f.id = c.file_id
WHERE %s
ORDER BY c.file_id, matched DESC
LIMIT $%d
`, strings.Join(matchExprs, " + "), where, len(args))
	return query, args
}

func buildMetadataQuery(terms []string, excludeFileIDs []string, limit int) (string, []any) {
	args := make([]any, 0, len(terms)+len(excludeFileIDs)+1)
	matchExprs := make([]string, 0, len(terms))
	termConds := make([]string, 0, len(terms))
	for _, term := range terms {
		args = append(args, "%"+term+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		cond := fmt.Sprintf("(f.path ILIKE %s OR f.extension ILIKE %s OR f.kind ILIKE %s)", placeholder, placeholder, placeholder)
		termConds = append(termConds, cond)
		matchExprs = append(matchExprs, fmt.Sprintf("(CASE WHEN %s THEN 1 ELSE 0 END)", cond))
	}

	where := "(" + strings.Join(termConds, " OR ") + ")"
	where += notInClause("f.id", excludeFileIDs, &args)

	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT f.id, f.name, f.path, f.kind, %s AS matched
FROM files f
WHERE %s
ORDER BY matched DESC, f.name
LIMIT $%d
`, strings.Join(matchExprs, " + "), where, len(args))
	return query, args
}

func notInClause(column string, ids []string, args *[]any) string {
	if len(ids) == 0 {
		return ""
	}
	placeholders := make([]string, 0, len(ids))
	for _, id := range ids {
		*args = append(*args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(*args)))
	}
	return " AND " + column + " NOT IN (" + strings.Join(placeholders, ", ") + ")"
}

// searchTerms lowercases the query and keeps unique alphanumeric runs of
// two or more characters, mirroring the term gate used by retrieval.
func searchTerms(query string) []string {
	lower := strings.ToLower(query)
	seen := make(map[string]struct{}, 8)
	var terms []string
	var b strings.Builder
	flush := func() {
		if b.Len() < 2 {
			b.Reset()
			return
		}
		term := b.String()
		b.Reset()
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return terms
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (domain.FileRecord, error) {
	var file domain.FileRecord
	err := row.Scan(&file.ID, &file.Name, &file.Path, &file.Kind, &file.Extension, &file.Size, &file.HasEmbeddings)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FileRecord{}, err
		}
		return domain.FileRecord{}, fmt.Errorf("scan file: %w", err)
	}
	return file, nil
}
