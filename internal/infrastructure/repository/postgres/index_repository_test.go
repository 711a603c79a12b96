package postgres

import (
	"context"
	"database/sql"
	"reflect"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/docuseek/qa-engine/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*IndexRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &IndexRepository{db: db}, mock, func() { _ = db.Close() }
}

func fileRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "path", "kind", "extension", "size", "has_embeddings"})
}

func TestGetFileByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, name, path, kind").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetFileByID(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetFileByChunkIDJoinsThroughChunks(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("JOIN chunks c ON c.file_id = f.id").
		WithArgs("c1").
		WillReturnRows(fileRows().AddRow("f1", "report.pdf", "/docs/report.pdf", "pdf", ".pdf", 1024, true))

	file, err := repo.GetFileByChunkID(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetFileByChunkID() error = %v", err)
	}
	if file.ID != "f1" || file.Name != "report.pdf" || !file.HasEmbeddings {
		t.Fatalf("unexpected file: %+v", file)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindFilesByNameUsesContainsPattern(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("WHERE name ILIKE").
		WithArgs("%report%").
		WillReturnRows(fileRows().
			AddRow("f1", "report.pdf", "/docs/report.pdf", "pdf", ".pdf", 10, true).
			AddRow("f2", "annual report.docx", "/docs/annual.docx", "document", ".docx", 20, false))

	files, err := repo.FindFilesByName(context.Background(), "report")
	if err != nil {
		t.Fatalf("FindFilesByName() error = %v", err)
	}
	if len(files) != 2 || files[1].Kind != "document" {
		t.Fatalf("unexpected files: %+v", files)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetChunkReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM chunks").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetChunk(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func snippetRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "file_id", "snippet", "summary", "page_start", "page_end", "segment_caption",
		"name", "kind", "matched",
	})
}

func TestSearchSnippetsScoresByMatchedTerms(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("ORDER BY matched DESC").
		WithArgs("%annual%", "%revenue%", 10).
		WillReturnRows(snippetRows().
			AddRow("c1", "f1", "annual revenue grew", "", 2, 0, "", "report.pdf", "pdf", 2).
			AddRow("c2", "f2", "annual meeting notes", "", 0, 0, "", "notes.txt", "text", 1))

	hits, err := repo.SearchSnippets(context.Background(), domain.SnippetQuery{
		Query: "annual revenue",
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("SearchSnippets() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Score != 1.0 || hits[1].Score != 0.5 {
		t.Fatalf("unexpected scores: %v, %v", hits[0].Score, hits[1].Score)
	}
	if hits[0].Provenance.Kind != domain.ProvenanceTextPage || hits[0].Provenance.PageStart != 2 {
		t.Fatalf("provenance not mapped: %+v", hits[0].Provenance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchSnippetsNoUsableTermsSkipsQuery(t *testing.T) {
	repo, _, done := newRepoWithMock(t)
	defer done()

	hits, err := repo.SearchSnippets(context.Background(), domain.SnippetQuery{Query: "? !"})
	if err != nil || hits != nil {
		t.Fatalf("expected no-op for punctuation-only query, got (%v, %v)", hits, err)
	}
}

func TestBuildSnippetQueryConjunctionAndFileScope(t *testing.T) {
	query, args := buildSnippetQuery([]string{"annual", "revenue"}, true, []string{"f1", "f2"}, 5)
	wantArgs := []any{"%annual%", "%revenue%", "f1", "f2", 5}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Fatalf("unexpected args: %v", args)
	}
	for _, fragment := range []string{
		"c.snippet ILIKE $1 AND c.snippet ILIKE $2",
		"c.file_id IN ($3, $4)",
		"LIMIT $5",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("query missing %q:\n%s", fragment, query)
		}
	}
}

func TestBuildSnippetQueryDisjunctionByDefault(t *testing.T) {
	query, _ := buildSnippetQuery([]string{"annual", "revenue"}, false, nil, 5)
	if !strings.Contains(query, "c.snippet ILIKE $1 OR c.snippet ILIKE $2") {
		t.Fatalf("expected OR-joined conditions:\n%s", query)
	}
}

func TestSearchFileSummariesOneHitPerFile(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("DISTINCT ON \\(c.file_id\\)").
		WithArgs("%quarterly%", "%revenue%", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_id", "summary", "name", "kind", "matched"}).
			AddRow("c1", "f1", "quarterly revenue summary", "report.pdf", "pdf", 2).
			AddRow("c7", "f2", "quarterly headcount", "hr.xlsx", "generic", 1))

	hits, err := repo.SearchFileSummaries(context.Background(), "quarterly revenue", 5, nil)
	if err != nil {
		t.Fatalf("SearchFileSummaries() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Score != 1.0 || hits[1].Score != 0.5 {
		t.Fatalf("unexpected scores: %v, %v", hits[0].Score, hits[1].Score)
	}
	if hits[0].ChunkID != "c1" || hits[0].Provenance.Kind != domain.ProvenanceTextPage {
		t.Fatalf("unexpected hit: %+v", hits[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchFileMetadataExcludesSeenFiles(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM files f").
		WithArgs("%pdf%", "f1", "f2", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "path", "kind", "matched"}).
			AddRow("f3", "notes.pdf", "/docs/notes.pdf", "pdf", 1))

	hits, err := repo.SearchFileMetadata(context.Background(), "pdf", 5, []string{"f1", "f2"})
	if err != nil {
		t.Fatalf("SearchFileMetadata() error = %v", err)
	}
	if len(hits) != 1 || hits[0].FileID != "f3" || hits[0].ChunkID != "" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if hits[0].Provenance.Path != "/docs/notes.pdf" {
		t.Fatalf("provenance not mapped: %+v", hits[0].Provenance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBuildSummaryQueryExclusionClause(t *testing.T) {
	query, args := buildSummaryQuery([]string{"annual", "revenue"}, []string{"f1"}, 5)
	wantArgs := []any{"%annual%", "%revenue%", "f1", 5}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Fatalf("unexpected args: %v", args)
	}
	for _, fragment := range []string{
		"c.summary ILIKE $1 OR c.summary ILIKE $2",
		"c.file_id NOT IN ($3)",
		"ORDER BY c.file_id, matched DESC",
		"LIMIT $4",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("query missing %q:\n%s", fragment, query)
		}
	}
}

func TestBuildMetadataQueryMatchesPathExtensionAndKind(t *testing.T) {
	query, args := buildMetadataQuery([]string{"pdf"}, nil, 5)
	if !reflect.DeepEqual(args, []any{"%pdf%", 5}) {
		t.Fatalf("unexpected args: %v", args)
	}
	if !strings.Contains(query, "f.path ILIKE $1 OR f.extension ILIKE $1 OR f.kind ILIKE $1") {
		t.Fatalf("expected the term to match every metadata column:\n%s", query)
	}
}

func TestSearchTermsDeduplicatesAndFiltersShort(t *testing.T) {
	terms := searchTerms("Annual, annual; a revenue 2023!")
	want := []string{"annual", "revenue", "2023"}
	if !reflect.DeepEqual(terms, want) {
		t.Fatalf("searchTerms() = %v, want %v", terms, want)
	}
}
