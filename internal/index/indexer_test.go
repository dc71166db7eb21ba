package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/github"
	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/log"
)

// mockRunStore implements RunStore, recording every checkpoint in order.
type mockRunStore struct {
	mu sync.Mutex

	source *Source

	acquireErr error
	insertErr  error

	statuses     []Status
	chunks       []Chunk
	replaceCalls int
	insertCalls  int
	fileCount    int
	chunkCount   int
	countsCalled bool
}

func (m *mockRunStore) GetSource(_ context.Context, id uuid.UUID) (*Source, error) {
	if m.source == nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return m.source, nil
}

func (m *mockRunStore) AcquireRun(_ context.Context, _ uuid.UUID, _ time.Duration) (uuid.UUID, error) {
	if m.acquireErr != nil {
		return uuid.Nil, m.acquireErr
	}
	return uuid.New(), nil
}

func (m *mockRunStore) UpdateStatus(_ context.Context, _ uuid.UUID, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockRunStore) UpdateCounts(_ context.Context, _ uuid.UUID, fileCount, chunkCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countsCalled = true
	m.fileCount = fileCount
	m.chunkCount = chunkCount
	return nil
}

func (m *mockRunStore) ReplaceChunks(_ context.Context, _ uuid.UUID, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	m.chunks = append([]Chunk(nil), chunks...)
	return nil
}

func (m *mockRunStore) InsertChunks(_ context.Context, _ uuid.UUID, chunks []Chunk) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *mockRunStore) lastStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.statuses) == 0 {
		return Status{}
	}
	return m.statuses[len(m.statuses)-1]
}

// mockFetcher serves a fixed tree and per-path file contents.
type mockFetcher struct {
	entries  []github.TreeEntry
	listErr  error
	contents map[string]string // keyed by file path
	failPath string            // downloads of this path fail
}

func (m *mockFetcher) ListTree(_ context.Context, _, _, _ string) ([]github.TreeEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.entries, nil
}

func (m *mockFetcher) ReadFile(_ context.Context, rawURL string) ([]byte, error) {
	for path, content := range m.contents {
		if strings.HasSuffix(rawURL, "/"+path) {
			if path == m.failPath {
				return nil, &github.StatusError{StatusCode: 503, URL: rawURL}
			}
			return []byte(content), nil
		}
	}
	return nil, &github.StatusError{StatusCode: 404, URL: rawURL}
}

// passthroughSplitter returns the whole text as a single segment.
type passthroughSplitter struct{}

func (passthroughSplitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	return []string{text}
}

func testSource() *Source {
	return &Source{
		ID:     uuid.New(),
		Owner:  "octo",
		Repo:   "widgets",
		Branch: "main",
		Status: Status{State: StatePending},
	}
}

func newTestIndexer(store RunStore, fetcher Fetcher) *Indexer {
	return NewIndexer(IndexerConfig{
		Store:    store,
		Fetcher:  fetcher,
		Splitter: passthroughSplitter{},
		Logger:   log.NewNop(),
	})
}

func TestRunSuccess(t *testing.T) {
	store := &mockRunStore{source: testSource()}
	fetcher := &mockFetcher{
		entries: []github.TreeEntry{
			{Path: "README.md", Kind: github.KindBlob, Size: 100},
			{Path: "docs/guide.md", Kind: github.KindBlob, Size: 100},
		},
		contents: map[string]string{
			"README.md":     "# Widgets\n\nA library of widgets.",
			"docs/guide.md": "## Guide\n\nHow to use widgets.",
		},
	}

	if err := newTestIndexer(store, fetcher).Run(context.Background(), store.source.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	last := store.lastStatus()
	if last.State != StateReady {
		t.Errorf("final state = %s, want ready", last.State)
	}
	if last.Progress != 100 {
		t.Errorf("final progress = %d, want exactly 100", last.Progress)
	}
	if last.LastSync.IsZero() {
		t.Error("final status missing sync time")
	}

	// Progress values must be monotonically non-decreasing within the run.
	prev := -1
	for i, st := range store.statuses {
		if st.Progress < prev {
			t.Errorf("status %d progress %d decreased from %d", i, st.Progress, prev)
		}
		prev = st.Progress
	}

	if !store.countsCalled || store.fileCount != 2 || store.chunkCount != 2 {
		t.Errorf("counts = (%d files, %d chunks), want (2, 2)", store.fileCount, store.chunkCount)
	}
	if store.replaceCalls != 1 {
		t.Errorf("ReplaceChunks called %d times, want 1", store.replaceCalls)
	}
	for _, c := range store.chunks {
		if c.RepoName != "octo/widgets" {
			t.Errorf("chunk repo name = %q, want octo/widgets", c.RepoName)
		}
		if c.Language != "markdown" {
			t.Errorf("chunk language = %q, want markdown", c.Language)
		}
		if c.Checksum == "" {
			t.Error("chunk missing checksum")
		}
	}
}

func TestRunZeroFilteredFiles(t *testing.T) {
	store := &mockRunStore{source: testSource()}
	fetcher := &mockFetcher{
		entries: []github.TreeEntry{
			{Path: "main.go", Kind: github.KindBlob, Size: 100},
			{Path: "lib", Kind: github.KindTree},
		},
	}

	err := newTestIndexer(store, fetcher).Run(context.Background(), store.source.ID)
	if err == nil {
		t.Fatal("Run should fail with no indexable files")
	}

	last := store.lastStatus()
	if last.State != StateError {
		t.Errorf("final state = %s, want error", last.State)
	}
	if last.Error == "" {
		t.Error("error status missing message")
	}
	if len(store.chunks) != 0 {
		t.Errorf("wrote %d chunks, want 0", len(store.chunks))
	}
}

func TestRunListFailure(t *testing.T) {
	store := &mockRunStore{source: testSource()}
	fetcher := &mockFetcher{listErr: &github.StatusError{StatusCode: 404, URL: "x"}}

	err := newTestIndexer(store, fetcher).Run(context.Background(), store.source.ID)
	if err == nil {
		t.Fatal("Run should fail when listing fails")
	}

	var statusErr *github.StatusError
	if !errors.As(err, &statusErr) {
		t.Errorf("cause should preserve the fetch status error, got %v", err)
	}
	if last := store.lastStatus(); last.State != StateError {
		t.Errorf("final state = %s, want error", last.State)
	}
	if len(store.chunks) != 0 {
		t.Errorf("wrote %d chunks, want 0", len(store.chunks))
	}
}

func TestRunPerFileFailureIsContained(t *testing.T) {
	store := &mockRunStore{source: testSource()}
	fetcher := &mockFetcher{
		entries: []github.TreeEntry{
			{Path: "README.md", Kind: github.KindBlob, Size: 100},
			{Path: "broken.md", Kind: github.KindBlob, Size: 100},
		},
		contents: map[string]string{
			"README.md": "fine content",
			"broken.md": "never delivered",
		},
		failPath: "broken.md",
	}

	if err := newTestIndexer(store, fetcher).Run(context.Background(), store.source.ID); err != nil {
		t.Fatalf("a single file failure must not fail the run: %v", err)
	}

	if last := store.lastStatus(); last.State != StateReady {
		t.Errorf("final state = %s, want ready", last.State)
	}
	if store.fileCount != 1 {
		t.Errorf("file count = %d, want 1 (the failed file is skipped)", store.fileCount)
	}
	if len(store.chunks) != 1 || store.chunks[0].FilePath != "README.md" {
		t.Errorf("unexpected chunks: %+v", store.chunks)
	}
}

func TestRunReindexReplaces(t *testing.T) {
	store := &mockRunStore{source: testSource()}
	fetcher := &mockFetcher{
		entries: []github.TreeEntry{
			{Path: "README.md", Kind: github.KindBlob, Size: 100},
		},
		contents: map[string]string{"README.md": "content v1"},
	}
	ix := newTestIndexer(store, fetcher)

	if err := ix.Run(context.Background(), store.source.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	fetcher.contents["README.md"] = "content v2"
	if err := ix.Run(context.Background(), store.source.ID); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// After two runs the chunk count equals the second run's output, not the sum.
	if len(store.chunks) != 1 {
		t.Fatalf("chunk count after re-index = %d, want 1", len(store.chunks))
	}
	if store.chunks[0].Content != "content v2" {
		t.Errorf("chunk content = %q, want the second run's content", store.chunks[0].Content)
	}
	if store.replaceCalls != 2 {
		t.Errorf("ReplaceChunks called %d times, want once per run", store.replaceCalls)
	}
}

func TestRunPersistenceFailureAbortsRun(t *testing.T) {
	store := &mockRunStore{
		source:    testSource(),
		insertErr: errors.New("connection reset"),
	}
	fetcher := &mockFetcher{
		entries: []github.TreeEntry{
			{Path: "README.md", Kind: github.KindBlob, Size: 100},
		},
		contents: map[string]string{"README.md": "# Widgets"},
	}

	err := newTestIndexer(store, fetcher).Run(context.Background(), store.source.ID)
	if err == nil {
		t.Fatal("Run should fail when chunk writes fail")
	}
	if last := store.lastStatus(); last.State != StateError {
		t.Errorf("final state = %s, want error", last.State)
	}
}

func TestRunRefusedWhileLeaseHeld(t *testing.T) {
	store := &mockRunStore{
		source:     testSource(),
		acquireErr: ErrRunInProgress,
	}
	err := newTestIndexer(store, &mockFetcher{}).Run(context.Background(), store.source.ID)
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("got %v, want ErrRunInProgress", err)
	}
	if len(store.statuses) != 0 {
		t.Errorf("refused run must not write status checkpoints, got %d", len(store.statuses))
	}
}

func TestRunBatchProgress(t *testing.T) {
	// 25 files with batch size 10 gives three batches and progress values
	// between 20 and 90 before the final 100.
	entries := make([]github.TreeEntry, 0, 25)
	contents := make(map[string]string, 25)
	for i := 0; i < 25; i++ {
		path := fmt.Sprintf("docs/page%02d.md", i)
		entries = append(entries, github.TreeEntry{Path: path, Kind: github.KindBlob, Size: 64})
		contents[path] = fmt.Sprintf("content for page %d", i)
	}
	store := &mockRunStore{source: testSource()}
	fetcher := &mockFetcher{entries: entries, contents: contents}

	if err := newTestIndexer(store, fetcher).Run(context.Background(), store.source.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var batchProgress []int
	for _, st := range store.statuses {
		if st.State == StateIndexing && st.Progress > 20 && st.Progress < 100 {
			batchProgress = append(batchProgress, st.Progress)
		}
	}
	want := []int{48, 76, 90} // 20 + 70*processed/25 for processed = 10, 20, 25
	if len(batchProgress) != len(want) {
		t.Fatalf("batch progress = %v, want %v", batchProgress, want)
	}
	for i := range want {
		if batchProgress[i] != want[i] {
			t.Errorf("batch progress[%d] = %d, want %d", i, batchProgress[i], want[i])
		}
	}
	if store.chunkCount != 25 {
		t.Errorf("chunk count = %d, want 25", store.chunkCount)
	}
}

func TestStartRefusedWhileLeaseHeld(t *testing.T) {
	store := &mockRunStore{
		source:     testSource(),
		acquireErr: ErrRunInProgress,
	}
	ix := newTestIndexer(store, &mockFetcher{})

	err := ix.Start(context.Background(), context.Background(), store.source.ID)
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("got %v, want ErrRunInProgress before any work starts", err)
	}
	if len(store.statuses) != 0 {
		t.Errorf("refused start must not write status checkpoints, got %d", len(store.statuses))
	}
}

func TestStartRunsInBackground(t *testing.T) {
	store := &mockRunStore{source: testSource()}
	fetcher := &mockFetcher{
		entries: []github.TreeEntry{
			{Path: "README.md", Kind: github.KindBlob, Size: 100},
		},
		contents: map[string]string{"README.md": "# Widgets"},
	}
	ix := newTestIndexer(store, fetcher)

	if err := ix.Start(context.Background(), context.Background(), store.source.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for store.lastStatus().State != StateReady {
		select {
		case <-deadline:
			t.Fatalf("background run never reached ready, last status %+v", store.lastStatus())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if len(store.chunks) != 1 {
		t.Errorf("background run wrote %d chunks, want 1", len(store.chunks))
	}
}
