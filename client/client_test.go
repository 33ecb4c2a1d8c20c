package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"boardsync/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "secret", 2*time.Second, nil)
}

func TestCreateEntitySendsHeaders(t *testing.T) {
	var gotAuth, gotKey, gotPath string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		gotPath = r.URL.Path
		w.Write([]byte(`{"id":"srv-1","title":"x"}`))
	})

	raw, err := c.CreateEntity(context.Background(), domain.EntityTask, domain.Task{Title: "x"}, "key-1")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header %q", gotAuth)
	}
	if gotKey != "key-1" {
		t.Fatalf("idempotency key %q", gotKey)
	}
	if gotPath != "/api/tasks" {
		t.Fatalf("path %q", gotPath)
	}
	var rec domain.Task
	if err := sonic.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("response decode: %v", err)
	}
	if rec.ID != "srv-1" {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestUpdateEntityForceFlag(t *testing.T) {
	var gotForce string
	var gotMethod string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotForce = r.URL.Query().Get("force")
		gotMethod = r.Method
		w.Write([]byte(`{}`))
	})

	if _, err := c.UpdateEntity(context.Background(), domain.EntityTask, "t1", domain.Patch{"title": "x"}, "k", true); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("method %q", gotMethod)
	}
	if gotForce != "true" {
		t.Fatalf("force flag not sent")
	}
}

func TestMoveTaskPath(t *testing.T) {
	var gotPath string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	})
	if _, err := c.MoveTask(context.Background(), "t1", "col-b", 2, "k"); err != nil {
		t.Fatalf("MoveTask: %v", err)
	}
	if gotPath != "/api/tasks/t1/move" {
		t.Fatalf("path %q", gotPath)
	}
}

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusConflict, func(t *testing.T, err error) {
			var ce *ConflictError
			if !errors.As(err, &ce) {
				t.Fatalf("want ConflictError, got %v", err)
			}
			if ce.EntityID != "t1" {
				t.Fatalf("conflict target wrong: %#v", ce)
			}
		}},
		{http.StatusNotFound, func(t *testing.T, err error) {
			var se *StaleReferenceError
			if !errors.As(err, &se) {
				t.Fatalf("want StaleReferenceError, got %v", err)
			}
		}},
		{http.StatusGone, func(t *testing.T, err error) {
			var se *StaleReferenceError
			if !errors.As(err, &se) {
				t.Fatalf("want StaleReferenceError, got %v", err)
			}
		}},
		{http.StatusTooManyRequests, func(t *testing.T, err error) {
			if !IsRetryable(err) {
				t.Fatalf("429 should be retryable, got %v", err)
			}
		}},
		{http.StatusInternalServerError, func(t *testing.T, err error) {
			if !IsRetryable(err) {
				t.Fatalf("500 should be retryable, got %v", err)
			}
		}},
		{http.StatusBadRequest, func(t *testing.T, err error) {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("want ValidationError, got %v", err)
			}
			if IsRetryable(err) {
				t.Fatalf("400 must not be retryable")
			}
		}},
	}
	for _, tc := range cases {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"title":"remote"}`))
		})
		_, err := c.UpdateEntity(context.Background(), domain.EntityTask, "t1", domain.Patch{"title": "x"}, "k", false)
		if err == nil {
			t.Fatalf("status %d produced no error", tc.status)
		}
		tc.check(t, err)
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	c := New(srv.URL, "", time.Second, nil)

	_, err := c.UpdateEntity(context.Background(), domain.EntityTask, "t1", domain.Patch{"title": "x"}, "k", false)
	if !IsRetryable(err) {
		t.Fatalf("connection failure should be retryable, got %v", err)
	}
}

func TestFetchBoardDecodesSnapshot(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/boards/b1/snapshot" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"board":{"id":"b1","name":"Roadmap"},"tasks":[{"id":"t1","boardId":"b1"}]}`))
	})

	snap, err := c.FetchBoard(context.Background(), "b1")
	if err != nil {
		t.Fatalf("FetchBoard: %v", err)
	}
	if snap.Board.ID != "b1" || len(snap.Tasks) != 1 {
		t.Fatalf("unexpected snapshot %#v", snap)
	}
}
