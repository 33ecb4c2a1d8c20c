package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"boardsync/domain"
	"boardsync/engine"
	"boardsync/presence"
	"boardsync/view"
)

type beginCall struct {
	op         string
	entityType string
	entityID   string
	patch      domain.Patch
	columnID   string
	position   int
}

type fakeEngine struct {
	calls    []beginCall
	createID string

	boardView view.BoardView
	boardOK   bool
	filter    domain.FilterState

	conflicts []engine.Conflict
	resolved  struct {
		id       string
		strategy string
		chooser  engine.FieldChooser
	}
	resolveErr error

	tracker  *presence.Tracker
	resyncID string
}

func (f *fakeEngine) BeginCreate(entityType string, patch domain.Patch) (string, error) {
	f.calls = append(f.calls, beginCall{op: "create", entityType: entityType, patch: patch})
	return f.createID, nil
}

func (f *fakeEngine) BeginUpdate(entityType, id string, patch domain.Patch) error {
	f.calls = append(f.calls, beginCall{op: "update", entityType: entityType, entityID: id, patch: patch})
	return nil
}

func (f *fakeEngine) BeginMoveTask(taskID, targetColumnID string, targetPos int) error {
	f.calls = append(f.calls, beginCall{op: "move", entityID: taskID, columnID: targetColumnID, position: targetPos})
	return nil
}

func (f *fakeEngine) BeginDelete(entityType, id string) error {
	f.calls = append(f.calls, beginCall{op: "delete", entityType: entityType, entityID: id})
	return nil
}

func (f *fakeEngine) BoardView(boardID string, filter domain.FilterState) (view.BoardView, bool) {
	f.filter = filter
	return f.boardView, f.boardOK
}

func (f *fakeEngine) Boards() []domain.Board            { return nil }
func (f *fakeEngine) Conflicts() []engine.Conflict      { return f.conflicts }
func (f *fakeEngine) AllConflicts() []engine.Conflict   { return f.conflicts }
func (f *fakeEngine) PendingCount() int                 { return 0 }
func (f *fakeEngine) Subscribe() chan engine.Notice     { return make(chan engine.Notice, 1) }
func (f *fakeEngine) Unsubscribe(ch chan engine.Notice) {}

func (f *fakeEngine) Resolve(conflictID, strategy string, chooser engine.FieldChooser) error {
	f.resolved.id = conflictID
	f.resolved.strategy = strategy
	f.resolved.chooser = chooser
	return f.resolveErr
}

func (f *fakeEngine) Presence() *presence.Tracker {
	if f.tracker == nil {
		f.tracker = presence.NewTracker(0)
	}
	return f.tracker
}

func (f *fakeEngine) Resync(ctx context.Context, boardIDs ...string) error {
	if len(boardIDs) > 0 {
		f.resyncID = boardIDs[0]
	}
	return nil
}

func setup(t *testing.T, token string) (*echo.Echo, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	e := echo.New()
	Register(e, eng, nil, token)
	return e, eng
}

func TestPostCommandsDispatchesMutations(t *testing.T) {
	e, eng := setup(t, "")
	eng.createID = "prov_abc"

	body := `[
		{"op":"create","entityType":"task","data":{"title":"new"}},
		{"op":"update","entityType":"task","entityId":"t1","data":{"title":"renamed"}},
		{"op":"move","entityId":"t2","targetColumnId":"col-b","targetPosition":1},
		{"op":"delete","entityType":"label","entityId":"l1"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if len(eng.calls) != 4 {
		t.Fatalf("expected 4 dispatches, got %#v", eng.calls)
	}
	if eng.calls[0].op != "create" || eng.calls[0].patch["title"] != "new" {
		t.Fatalf("create call wrong: %#v", eng.calls[0])
	}
	if eng.calls[2].columnID != "col-b" || eng.calls[2].position != 1 {
		t.Fatalf("move call wrong: %#v", eng.calls[2])
	}

	var results []commandResult
	if err := sonic.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if results[0].EntityID != "prov_abc" {
		t.Fatalf("provisional id not returned: %#v", results[0])
	}
}

func TestPostCommandsRejectsUnknownFields(t *testing.T) {
	e, _ := setup(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/commands", strings.NewReader(`[{"op":"create","bogus":1}]`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGetBoardViewParsesFilter(t *testing.T) {
	e, eng := setup(t, "")
	eng.boardOK = true
	eng.boardView = view.BoardView{Board: domain.Board{ID: "b1"}}

	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1/view?assignee=u1&assignee=u2&priority=high&q=login&hideCompleted=true&dueFrom=100&dueTo=900", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	want := domain.FilterState{
		AssigneeIDs:   []string{"u1", "u2"},
		Priorities:    []string{"high"},
		Search:        "login",
		HideCompleted: true,
		DueFrom:       100,
		DueTo:         900,
	}
	if !reflect.DeepEqual(eng.filter, want) {
		t.Fatalf("filter parsed as %#v, want %#v", eng.filter, want)
	}
}

func TestGetBoardViewUnknownBoard(t *testing.T) {
	e, _ := setup(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/boards/nope/view", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestResolveConflictMergeFields(t *testing.T) {
	e, eng := setup(t, "")
	body := `{"strategy":"merge-fields","fields":{"title":"remote","notes":"local"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/conflicts/c1/resolve", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if eng.resolved.id != "c1" || eng.resolved.strategy != engine.MergeFields {
		t.Fatalf("resolve call wrong: %#v", eng.resolved)
	}
	if eng.resolved.chooser == nil {
		t.Fatalf("merge-fields resolve missing chooser")
	}
	if got := eng.resolved.chooser("title", "L", "R"); got != "R" {
		t.Fatalf("chooser picked %v for remote-designated field", got)
	}
	if got := eng.resolved.chooser("notes", "L", "R"); got != "L" {
		t.Fatalf("chooser picked %v for local-designated field", got)
	}
}

func TestResolveConflictErrorShowsUp(t *testing.T) {
	e, eng := setup(t, "")
	eng.resolveErr = errTest{}
	req := httptest.NewRequest(http.MethodPost, "/api/conflicts/c9/resolve", strings.NewReader(`{"strategy":"keep-local"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", rec.Code)
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }

func TestAuthToken(t *testing.T) {
	e, _ := setup(t, "sekrit")

	req := httptest.NewRequest(http.MethodGet, "/api/conflicts", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request passed, status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conflicts", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer sekrit")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated request rejected, status %d", rec.Code)
	}

	// Healthz stays open for probes.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz gated by auth, status %d", rec.Code)
	}
}

func TestGetPresence(t *testing.T) {
	e, eng := setup(t, "")
	online := domain.UserOnline
	eng.Presence().Apply("u1", domain.PresenceUpdate{Status: &online}, 100)

	req := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Users []domain.Presence `json:"users"`
	}
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0].UserID != "u1" {
		t.Fatalf("presence response wrong: %#v", resp.Users)
	}
}

func TestPostResync(t *testing.T) {
	e, eng := setup(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/boards/b7/resync", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
	if eng.resyncID != "b7" {
		t.Fatalf("resync board %q", eng.resyncID)
	}
}
