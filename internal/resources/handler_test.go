package resources

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/vectorcache/internal/config"
	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/connection/conntest"
	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/search"
	"github.com/thebtf/vectorcache/internal/vector"
	"github.com/thebtf/vectorcache/internal/vector/vectortest"
)

type HandlerSuite struct {
	suite.Suite
	store   *vectortest.Store
	conn    *connection.Manager
	handler *Handler
	cfg     config.Config
	base    time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = vectortest.New()
	s.cfg = conntest.Config()
	s.cfg.ScoreThreshold = 0
	s.base = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s.conn = conntest.New(s.T(), s.store, s.cfg, true)
	s.handler = NewHandler(s.conn, search.NewManager(s.conn, nil))
}

func (s *HandlerSuite) seed(id, tool, session, user string, offset time.Duration, withTime bool) {
	vec, err := s.conn.Embed(context.Background(), tool)
	s.Require().NoError(err)
	p := map[string]any{
		payload.FieldToolName:   tool,
		payload.FieldSessionID:  session,
		payload.FieldUserEmail:  user,
		payload.FieldData:       `{"response":"ok"}`,
		payload.FieldCompressed: false,
	}
	if withTime {
		at := s.base.Add(offset)
		p[payload.FieldTimestamp] = payload.FormatTimestamp(at)
		p[payload.FieldTimestampUnix] = at.Unix()
	}
	s.Require().NoError(s.store.Upsert(context.Background(), s.cfg.Collection, []vector.Point{{ID: id, Vector: vec, Payload: p}}))
}

func (s *HandlerSuite) TestCollectionsList() {
	resp := s.handler.Handle(context.Background(), "qdrant://collections/list")
	s.Require().False(resp.Failed(), resp.Error)
	s.Equal(TypeCollections, resp.Type)
	stats := resp.Data.([]*vector.CollectionStats)
	s.Require().Len(stats, 1)
	s.Equal(s.cfg.Collection, stats[0].Name)
}

func (s *HandlerSuite) TestCollectionInfo() {
	s.seed(uuid.NewString(), "search_gmail_messages", "s1", "a@b.com", 0, true)

	resp := s.handler.Handle(context.Background(), "qdrant://collection/"+s.cfg.Collection+"/info")
	s.Require().False(resp.Failed(), resp.Error)
	s.Equal(uint64(1), resp.Data.(*vector.CollectionStats).PointsCount)

	resp = s.handler.Handle(context.Background(), "qdrant://collection/missing/info")
	s.True(resp.Failed())
	s.Equal(CodeNotFound, resp.Code)
}

func (s *HandlerSuite) TestRecentResponses() {
	oldest := uuid.NewString()
	newest := uuid.NewString()
	s.seed(oldest, "search_gmail_messages", "s1", "a@b.com", -2*time.Hour, true)
	s.seed(newest, "list_drive_files", "s1", "a@b.com", -time.Minute, true)

	resp := s.handler.Handle(context.Background(), "qdrant://collection/"+s.cfg.Collection+"/responses/recent")
	s.Require().False(resp.Failed(), resp.Error)
	results := resp.Data.([]search.Result)
	s.Require().Len(results, 2)
	s.Equal(newest, results[0].ID)
	s.Equal("ok", results[0].Data.(map[string]any)["response"])
}

func (s *HandlerSuite) TestPointDetail_Nearby() {
	target := uuid.NewString()
	s.seed(target, "search_gmail_messages", "s1", "a@b.com", 0, true)
	s.seed("00000000-0000-0000-0000-00000000000b", "get_gmail_thread", "s1", "a@b.com", 5*time.Minute, true)
	s.seed("00000000-0000-0000-0000-00000000000a", "list_drive_files", "s2", "a@b.com", -5*time.Minute, true)
	s.seed(uuid.NewString(), "list_drive_files", "s1", "a@b.com", time.Hour, true)
	s.seed(uuid.NewString(), "list_drive_files", "s1", "a@b.com", 0, false)

	resp := s.handler.Handle(context.Background(), "qdrant://collection/"+s.cfg.Collection+"/"+target)
	s.Require().False(resp.Failed(), resp.Error)
	detail := resp.Data.(*PointDetail)
	s.Equal(target, detail.Point.ID)
	s.Require().Len(detail.Nearby, 2)
	s.Equal("00000000-0000-0000-0000-00000000000a", detail.Nearby[0].ID)
	s.False(detail.Nearby[0].SameSession)
	s.Equal("00000000-0000-0000-0000-00000000000b", detail.Nearby[1].ID)
	s.True(detail.Nearby[1].SameSession)
	s.Equal(300.0, detail.Nearby[1].DiffSeconds)
}

func (s *HandlerSuite) TestPointDetail_NotFound() {
	resp := s.handler.Handle(context.Background(), "qdrant://collection/"+s.cfg.Collection+"/"+uuid.NewString())
	s.True(resp.Failed())
	s.Equal(CodeNotFound, resp.Code)
}

func (s *HandlerSuite) TestSearch() {
	id := uuid.NewString()
	s.seed(id, "search_gmail_messages", "s1", "a@b.com", 0, true)

	resp := s.handler.Handle(context.Background(), "qdrant://search/"+url.PathEscape("id:"+id))
	s.Require().False(resp.Failed(), resp.Error)
	s.Equal(TypeSearch, resp.Type)
	s.Require().Len(resp.Data.(*search.Response).Results, 1)

	resp = s.handler.Handle(context.Background(), "qdrant://search/"+s.cfg.Collection+"/"+url.PathEscape("gmail messages"))
	s.Require().False(resp.Failed(), resp.Error)
	s.Len(resp.Data.(*search.Response).Results, 1)
}

func (s *HandlerSuite) TestStatus() {
	resp := s.handler.Handle(context.Background(), "qdrant://status")
	s.Require().False(resp.Failed())
	data := resp.Data.(map[string]any)
	status := data["connection"].(connection.Status)
	s.True(status.Ready)
	s.Equal(s.cfg.Collection, status.Collection)
	s.Contains(data, "search")
}

func (s *HandlerSuite) TestCache() {
	s.seed("00000000-0000-0000-0000-000000000001", "search_gmail_messages", "s1", "a@b.com", -time.Hour, true)
	s.seed("00000000-0000-0000-0000-000000000002", "search_gmail_messages", "s1", "c@d.com", -time.Minute, true)
	s.seed("00000000-0000-0000-0000-000000000003", "search_gmail_messages", "s1", "", 0, false)
	s.seed("00000000-0000-0000-0000-000000000004", "list_drive_files", "s1", "a@b.com", 0, true)

	resp := s.handler.Handle(context.Background(), "qdrant://cache")
	s.Require().False(resp.Failed(), resp.Error)
	groups := resp.Data.(map[string][]CacheEntry)
	s.Require().Len(groups["search_gmail_messages"], 3)
	s.Equal([]string{
		"00000000-0000-0000-0000-000000000002",
		"00000000-0000-0000-0000-000000000001",
		"00000000-0000-0000-0000-000000000003",
	}, []string{
		groups["search_gmail_messages"][0].PointID,
		groups["search_gmail_messages"][1].PointID,
		groups["search_gmail_messages"][2].PointID,
	})
	s.Equal("c@d.com", groups["search_gmail_messages"][0].User)
	s.Len(groups["list_drive_files"], 1)
}

func (s *HandlerSuite) TestUnknownResources() {
	for _, uri := range []string{
		"qdrant://",
		"qdrant://nope",
		"qdrant://collections",
		"qdrant://collection/a/b/c/d/e",
		"qdrant://search",
		"qdrant://bad%zz",
	} {
		resp := s.handler.Handle(context.Background(), uri)
		s.True(resp.Failed(), uri)
		s.Equal(CodeUnknownResource, resp.Code, uri)
		s.Equal(uri, resp.URI)
	}
}

func (s *HandlerSuite) TestIntercept() {
	_, ok := s.handler.Intercept(context.Background(), "file:///etc/hosts")
	s.False(ok)

	resp, ok := s.handler.Intercept(context.Background(), "qdrant://status")
	s.True(ok)
	s.Equal(TypeStatus, resp.Type)
}

func (s *HandlerSuite) TestUnavailable() {
	conn := conntest.New(s.T(), s.store, s.cfg, false, connection.WithDialer(
		func(context.Context, connection.Endpoint) (vector.Store, error) {
			return nil, errors.New("refused")
		}))
	h := NewHandler(conn, search.NewManager(conn, nil))

	resp := h.Handle(context.Background(), "qdrant://cache")
	s.True(resp.Failed())
	s.Equal(CodeUnavailable, resp.Code)

	resp = h.Handle(context.Background(), "qdrant://status")
	s.False(resp.Failed())
}

func TestNearby_LimitsAndExcludesTarget(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	point := func(id string, offset time.Duration) vector.ScoredPoint {
		return vector.ScoredPoint{ID: id, Payload: map[string]any{
			payload.FieldTimestamp: payload.FormatTimestamp(base.Add(offset)),
		}}
	}
	points := []vector.ScoredPoint{
		point("t", 0),
		point("c", 10*time.Second),
		point("b", -10*time.Second),
		point("a", time.Minute),
		{ID: "x", Payload: map[string]any{payload.FieldTimestamp: "garbage"}},
	}

	got := Nearby("t", base, "", points)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.False(t, got[0].SameSession)

	assert.Empty(t, Nearby("t", base, "", points[:1]))
}

func TestNearby_LegacyLayout(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []vector.ScoredPoint{{ID: "1", Payload: map[string]any{
		payload.FieldTimestamp: payload.FormatTimestamp(base.Add(time.Second)),
		"metadata": map[string]any{
			payload.FieldToolName:  "get_gmail_thread",
			payload.FieldSessionID: "s1",
		},
	}}}
	got := Nearby("t", base, "s1", points)
	require.Len(t, got, 1)
	assert.Equal(t, "get_gmail_thread", got[0].ToolName)
	assert.True(t, got[0].SameSession)
}

func TestTemplatesUseScheme(t *testing.T) {
	for _, tpl := range Templates() {
		assert.Contains(t, tpl.URITemplate, Scheme)
	}
}
