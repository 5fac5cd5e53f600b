package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/vectorcache/internal/config"
	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/connection/conntest"
	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/query"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/storage"
	"github.com/thebtf/vectorcache/internal/vector"
	"github.com/thebtf/vectorcache/internal/vector/vectortest"
)

type SearchSuite struct {
	suite.Suite
	store   *vectortest.Store
	conn    *connection.Manager
	writer  *storage.Manager
	manager *Manager
	cfg     config.Config
	now     time.Time
}

func TestSearchSuite(t *testing.T) {
	suite.Run(t, new(SearchSuite))
}

func (s *SearchSuite) SetupTest() {
	s.store = vectortest.New()
	s.cfg = conntest.Config()
	s.cfg.ScoreThreshold = 0
	s.now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s.conn = conntest.New(s.T(), s.store, s.cfg, true)
	s.writer = storage.NewManager(s.conn, nil)
	s.manager = NewManager(s.conn, nil)
	s.manager.now = func() time.Time { return s.now }
}

func (s *SearchSuite) put(tool, user, session, text string) string {
	id := s.writer.Store(context.Background(), storage.Invocation{
		ToolName:  tool,
		Arguments: map[string]any{"query": text},
		Response:  storage.TextResponse{Text: text},
		UserEmail: user,
		SessionID: session,
	})
	s.Require().NotEmpty(id)
	return id
}

// seed upserts a point with an explicit timestamp.
func (s *SearchSuite) seed(id, tool string, at time.Time) {
	vec, err := s.conn.Embed(context.Background(), tool)
	s.Require().NoError(err)
	p := map[string]any{
		payload.FieldData:       `{"response":"seeded"}`,
		payload.FieldCompressed: false,
	}
	if tool != "" {
		p[payload.FieldToolName] = tool
		p[payload.FieldService] = services.Default().Resolve(tool).ID
	}
	if !at.IsZero() {
		p[payload.FieldTimestamp] = payload.FormatTimestamp(at)
		p[payload.FieldTimestampUnix] = at.Unix()
	}
	s.Require().NoError(s.store.Upsert(context.Background(), s.cfg.Collection, []vector.Point{{ID: id, Vector: vec, Payload: p}}))
}

func (s *SearchSuite) TestSearch_IDLookup() {
	id := s.put("search_gmail_messages", "a@b.com", "s1", "quarterly invoice")

	resp, err := s.manager.Search(context.Background(), "id:"+id, 0, DefaultThreshold)
	s.Require().NoError(err)
	s.Equal(string(query.KindIDLookup), resp.QueryType)
	s.Require().Len(resp.Results, 1)
	s.Equal(id, resp.Results[0].ID)
	s.Equal(float32(1.0), resp.Results[0].Score)
	s.Equal("gmail", resp.Results[0].Service)

	record, ok := resp.Results[0].Data.(map[string]any)
	s.Require().True(ok)
	s.Equal("quarterly invoice", record["response"])
}

func (s *SearchSuite) TestSearch_IDLookupMissing() {
	s.put("search_gmail_messages", "a@b.com", "s1", "x")

	for _, q := range []string{"id:" + uuid.NewString(), "id:not-an-id", "id:"} {
		resp, err := s.manager.Search(context.Background(), q, 0, DefaultThreshold)
		s.Require().NoError(err, q)
		s.Empty(resp.Results, q)
	}
}

func (s *SearchSuite) TestSearch_FilterOnlyScan() {
	s.put("search_gmail_messages", "a@b.com", "s1", "one")
	s.put("list_drive_files", "a@b.com", "s2", "two")
	s.put("search_gmail_messages", "c@d.com", "s3", "three")

	resp, err := s.manager.Search(context.Background(), "user:a@b.com", 0, DefaultThreshold)
	s.Require().NoError(err)
	s.Equal(string(query.KindFilteredSearch), resp.QueryType)
	s.Require().Len(resp.Results, 2)
	for _, r := range resp.Results {
		s.Equal("a@b.com", r.Metadata[payload.FieldUserEmail])
		s.Equal(float32(1.0), r.Score)
	}
	s.Equal(int64(1), s.manager.Metrics().FilterSearches)
}

func (s *SearchSuite) TestSearch_ServiceFilterUsesServiceField() {
	s.put("search_gmail_messages", "a@b.com", "s1", "one")
	s.put("get_gmail_thread", "a@b.com", "s1", "two")
	s.put("list_drive_files", "a@b.com", "s1", "three")

	resp, err := s.manager.Search(context.Background(), "service:gmail", 0, DefaultThreshold)
	s.Require().NoError(err)
	s.Require().Len(resp.Results, 2)
	for _, r := range resp.Results {
		s.Equal("gmail", r.Service)
	}

	resp, err = s.manager.Search(context.Background(), "tool:list_drive_files", 0, DefaultThreshold)
	s.Require().NoError(err)
	s.Require().Len(resp.Results, 1)
	s.Equal("list_drive_files", resp.Results[0].ToolName)
}

func (s *SearchSuite) TestSearch_FilteredSemantic() {
	s.put("search_gmail_messages", "a@b.com", "s1", "budget reports for finance")
	s.put("search_gmail_messages", "a@b.com", "s1", "holiday photos")
	s.put("search_gmail_messages", "c@d.com", "s2", "budget reports for finance")

	resp, err := s.manager.Search(context.Background(), "user:a@b.com budget reports", 0, 0)
	s.Require().NoError(err)
	s.Equal("budget reports", resp.Intent.SemanticQuery)
	s.Require().NotEmpty(resp.Results)
	for _, r := range resp.Results {
		s.Equal("a@b.com", r.Metadata[payload.FieldUserEmail])
	}
	record := resp.Results[0].Data.(map[string]any)
	s.Equal("budget reports for finance", record["response"])
	s.Equal(int64(1), s.manager.Metrics().VectorSearches)
}

func (s *SearchSuite) TestSearch_General() {
	s.put("search_gmail_messages", "a@b.com", "s1", "kubernetes deployment failed")
	s.put("list_drive_files", "a@b.com", "s1", "chocolate cake recipe")

	resp, err := s.manager.Search(context.Background(), "kubernetes deployment", 1, 0)
	s.Require().NoError(err)
	s.Equal(string(query.KindGeneralSearch), resp.QueryType)
	s.Require().Len(resp.Results, 1)
	s.Equal("search_gmail_messages", resp.Results[0].ToolName)
	s.Greater(resp.Results[0].Score, float32(0))

	resp, err = s.manager.Search(context.Background(), "   ", 0, 0)
	s.Require().NoError(err)
	s.Empty(resp.Results)
}

func (s *SearchSuite) TestSearch_WhileStoresSaturatePool() {
	s.put("search_gmail_messages", "a@b.com", "s1", "kubernetes deployment failed")

	workers := s.conn.Pool().Stats().Workers
	for i := range 3 * workers {
		s.Require().True(s.writer.StoreAsync(storage.Invocation{
			ToolName: "list_drive_files",
			Response: storage.TextResponse{Text: strings.Repeat("quarterly report ", i+1)},
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := s.manager.Search(ctx, "kubernetes deployment", 1, 0)
	s.Require().NoError(err)
	s.Require().Len(resp.Results, 1)
	s.Equal("search_gmail_messages", resp.Results[0].ToolName)

	s.Eventually(func() bool { return s.store.Len(s.cfg.Collection) == 1+3*workers }, 3*time.Second, 5*time.Millisecond)
}

func (s *SearchSuite) TestSearch_CompressedRecordIsDecoded() {
	big := strings.Repeat("lorem ipsum dolor ", 1000)
	id := s.put("get_doc_content", "a@b.com", "s1", big)

	resp, err := s.manager.Search(context.Background(), "id:"+id, 0, DefaultThreshold)
	s.Require().NoError(err)
	s.Require().Len(resp.Results, 1)
	s.Equal(true, resp.Results[0].Metadata[payload.FieldCompressed])
	s.NotContains(resp.Results[0].Metadata, payload.FieldCompressedData)
	s.Equal(big, resp.Results[0].Data.(map[string]any)["response"])
}

func (s *SearchSuite) TestSearch_Unavailable() {
	conn := conntest.New(s.T(), s.store, s.cfg, false, connection.WithDialer(
		func(context.Context, connection.Endpoint) (vector.Store, error) {
			return nil, errors.New("connection refused")
		}))
	m := NewManager(conn, nil)

	_, err := m.Search(context.Background(), "anything", 0, DefaultThreshold)
	s.ErrorIs(err, connection.ErrUnavailable)

	resp := m.UnifiedSearch(context.Background(), "anything", 0, DefaultThreshold)
	s.NotEmpty(resp.Error)
	s.NotNil(resp.Results)
	s.Empty(resp.Results)

	doc := m.Fetch(context.Background(), uuid.NewString())
	s.False(doc.Found)
	s.NotEmpty(doc.Error)
}

func (s *SearchSuite) TestFetch_EndToEnd() {
	id := s.put("search_gmail_messages", "a@b.com", "s1", "3 messages")

	doc := s.manager.Fetch(context.Background(), id)
	s.Require().True(doc.Found, doc.Error)
	s.Equal(id, doc.ID)
	s.Equal("gmail", doc.Metadata["service"])
	s.Equal("📧 Gmail · search_gmail_messages", doc.Title)
	s.Equal("https://mail.google.com#"+id, doc.URL)
	s.Contains(doc.Text, "3 messages")
	s.NotContains(doc.Metadata, payload.FieldData)
}

func (s *SearchSuite) TestFetch_NotFoundAndInvalid() {
	doc := s.manager.Fetch(context.Background(), uuid.NewString())
	s.False(doc.Found)
	s.Equal(ErrNotFound.Error(), doc.Error)

	doc = s.manager.Fetch(context.Background(), "nope")
	s.False(doc.Found)
	s.Equal("invalid point id", doc.Error)

	_, err := s.manager.Get(context.Background(), uuid.NewString())
	s.ErrorIs(err, ErrNotFound)
}

func (s *SearchSuite) TestFetchMany_OrderAndMissing() {
	a := uuid.NewString()
	b := uuid.NewString()
	c := uuid.NewString()
	s.seed(a, "search_gmail_messages", s.now.Add(-2*time.Hour))
	s.seed(b, "list_drive_files", s.now.Add(-1*time.Hour))
	s.seed(c, "run_query", s.now.Add(-3*time.Hour))
	missing := uuid.NewString()

	docs := s.manager.FetchMany(context.Background(), []string{a, missing, b, c}, "", "")
	s.Require().Len(docs, 4)
	s.Equal([]string{a, missing, b, c}, []string{docs[0].ID, docs[1].ID, docs[2].ID, docs[3].ID})
	s.False(docs[1].Found)
	s.Equal("qdrant://collection/"+s.cfg.Collection+"/"+c, docs[3].URL)

	docs = s.manager.FetchMany(context.Background(), []string{a, missing, b, c}, payload.FieldTimestampUnix, "desc")
	s.Equal([]string{b, a, c, missing}, []string{docs[0].ID, docs[1].ID, docs[2].ID, docs[3].ID})

	docs = s.manager.FetchMany(context.Background(), []string{a, missing, b, c}, payload.FieldToolName, "asc")
	s.Equal([]string{b, c, a, missing}, []string{docs[0].ID, docs[1].ID, docs[2].ID, docs[3].ID})
}

func (s *SearchSuite) TestRecommend() {
	pos := s.put("search_gmail_messages", "a@b.com", "s1", "kubernetes cluster upgrade")
	s.put("search_gmail_messages", "a@b.com", "s1", "kubernetes cluster upgrade notes")
	s.put("list_drive_files", "a@b.com", "s1", "cake")

	resp, err := s.manager.Recommend(context.Background(), []string{pos, "junk"}, nil, 1, 0)
	s.Require().NoError(err)
	s.Require().Len(resp.Results, 1)
	s.NotEqual(pos, resp.Results[0].ID)
	s.Equal("search_gmail_messages", resp.Results[0].ToolName)

	_, err = s.manager.Recommend(context.Background(), []string{"junk"}, nil, 1, 0)
	s.Error(err)
}

func (s *SearchSuite) TestGetAnalytics() {
	s.seed(uuid.NewString(), "search_gmail_messages", s.now.Add(-time.Hour))
	s.seed(uuid.NewString(), "search_gmail_messages", s.now.Add(-2*time.Hour))
	s.seed(uuid.NewString(), "list_drive_files", s.now.Add(-48*time.Hour))
	s.seed(uuid.NewString(), "", s.now.Add(-30*time.Minute))

	stats, err := s.manager.GetAnalytics(context.Background(), time.Time{}, time.Time{}, "")
	s.Require().NoError(err)
	s.Equal(4, stats.Total)
	s.Equal(payload.FieldToolName, stats.GroupBy)
	s.Equal(2, stats.Groups["search_gmail_messages"].Count)
	s.Len(stats.Groups["search_gmail_messages"].Timestamps, 2)
	s.Equal(1, stats.Groups["list_drive_files"].Count)
	s.Equal(1, stats.Groups[services.UnknownID].Count)
	s.Equal("search_gmail_messages", stats.Keys()[0])

	stats, err = s.manager.GetAnalytics(context.Background(), s.now.Add(-24*time.Hour), s.now, payload.FieldService)
	s.Require().NoError(err)
	s.Equal(3, stats.Total)
	s.Equal(2, stats.Groups["gmail"].Count)
	s.Equal(1, stats.Groups[services.UnknownID].Count)
	s.NotContains(stats.Groups, "drive")
}

func (s *SearchSuite) TestUnifiedSearch_Overview() {
	s.seed(uuid.NewString(), "search_gmail_messages", s.now.Add(-time.Hour))
	s.seed(uuid.NewString(), "search_gmail_messages", s.now.Add(-time.Hour))
	s.seed(uuid.NewString(), "list_drive_files", s.now.Add(-time.Hour))

	resp := s.manager.UnifiedSearch(context.Background(), "usage overview", 0, DefaultThreshold)
	s.Empty(resp.Error)
	s.Equal(string(query.KindOverview), resp.QueryType)
	s.Require().Len(resp.Results, 2)
	s.Equal("analytics:search_gmail_messages", resp.Results[0].ID)
	s.Equal("📧 Gmail · search_gmail_messages (2 calls)", resp.Results[0].Title)
	s.Equal("https://mail.google.com#analytics:search_gmail_messages", resp.Results[0].URL)
	s.Equal(2, resp.TotalResults)
}

func (s *SearchSuite) TestUnifiedSearch_ServiceHistory() {
	older := uuid.NewString()
	newer := uuid.NewString()
	s.seed(older, "search_gmail_messages", s.now.Add(-3*time.Hour))
	s.seed(newer, "get_gmail_thread", s.now.Add(-1*time.Hour))
	s.seed(uuid.NewString(), "search_gmail_messages", s.now.Add(-36*time.Hour))
	s.seed(uuid.NewString(), "list_drive_files", s.now.Add(-2*time.Hour))

	resp := s.manager.UnifiedSearch(context.Background(), "gmail today", 0, DefaultThreshold)
	s.Empty(resp.Error)
	s.Equal(string(query.KindServiceHistory), resp.QueryType)
	s.Require().Len(resp.Results, 2)
	s.Equal(newer, resp.Results[0].ID)
	s.Equal(older, resp.Results[1].ID)
	s.Equal("https://mail.google.com#"+newer, resp.Results[0].URL)
}

func (s *SearchSuite) TestUnifiedSearch_ServiceHistoryWithSemanticRemainder() {
	gmail := s.put("search_gmail_messages", "a@b.com", "s1", "kubernetes deployment failed")
	s.put("list_drive_files", "a@b.com", "s1", "kubernetes deployment failed")

	resp := s.manager.UnifiedSearch(context.Background(), "gmail kubernetes deployment", 5, DefaultThreshold)
	s.Empty(resp.Error)
	s.Equal(string(query.KindServiceHistory), resp.QueryType)
	s.Require().Len(resp.Results, 1)
	s.Equal(gmail, resp.Results[0].ID)
}

func (s *SearchSuite) TestUnifiedSearch_Default() {
	id := s.put("search_gmail_messages", "a@b.com", "s1", "kubernetes deployment failed")

	resp := s.manager.UnifiedSearch(context.Background(), "kubernetes deployment", 5, DefaultThreshold)
	s.Empty(resp.Error)
	s.Equal(string(query.KindGeneralSearch), resp.QueryType)
	s.Require().Len(resp.Results, 1)
	s.Equal(Hit{
		ID:    id,
		Title: "📧 Gmail · search_gmail_messages",
		URL:   "https://mail.google.com#" + id,
		Score: resp.Results[0].Score,
	}, resp.Results[0])
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(uuid.NewString()))
	assert.True(t, ValidID("42"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("-1"))
	assert.False(t, ValidID("abc"))
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{int64(2), float64(10), -1},
		{float64(3), int64(3), 0},
		{"b", "a", 1},
		{"10", "9", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareValues(tt.a, tt.b), "%v vs %v", tt.a, tt.b)
	}
}

func TestMetadata_FlattensLegacyLayout(t *testing.T) {
	p := map[string]any{
		payload.FieldData:      "{}",
		payload.FieldTimestamp: "2026-10-17T12:00:00Z",
		"metadata": map[string]any{
			payload.FieldToolName:  "get_gmail_thread",
			payload.FieldUserEmail: "a@b.com",
		},
	}
	meta := Metadata(p, services.Default())
	assert.Equal(t, "get_gmail_thread", meta[payload.FieldToolName])
	assert.Equal(t, "gmail", meta[payload.FieldService])
	assert.Equal(t, "a@b.com", meta[payload.FieldUserEmail])
	assert.NotContains(t, meta, "metadata")
	assert.NotContains(t, meta, payload.FieldData)
}

func TestResultURL(t *testing.T) {
	gmail, _ := services.Default().Get("gmail")
	assert.Equal(t, "https://mail.google.com#1", ResultURL(gmail, "c", "1"))
	assert.Equal(t, "qdrant://collection/c/1", ResultURL(services.Unknown, "c", "1"))
	assert.Equal(t, "🔧 Tool", Title(services.Unknown, ""))
}
