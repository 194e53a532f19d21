package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/giquina/majordomo"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("tok", WithBaseURL(srv.URL))
}

func TestGetFileDecodesBase64(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/api/contents/cmd/main.go" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Error("missing auth header")
		}
		json.NewEncoder(w).Encode(map[string]string{
			"content":  base64.StdEncoding.EncodeToString([]byte("package main\n")),
			"encoding": "base64",
		})
	})

	got, err := c.GetFile(context.Background(), "owner/api", "main", "cmd/main.go")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if got != "package main\n" {
		t.Errorf("content = %q", got)
	}
}

func TestGetFileNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})

	_, err := c.GetFile(context.Background(), "owner/api", "main", "missing.go")
	var he *majordomo.ErrHTTP
	if !errors.As(err, &he) || he.Status != http.StatusNotFound {
		t.Errorf("err = %v, want ErrHTTP 404", err)
	}
}

func TestCommitFilesSequence(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.URL.Path == "/repos/owner/api/git/refs/heads/feature":
			if r.Method == http.MethodGet {
				json.NewEncoder(w).Encode(map[string]any{"object": map[string]string{"sha": "head123"}})
				return
			}
			// PATCH ref update
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/repos/owner/api/git/commits/head123":
			json.NewEncoder(w).Encode(map[string]any{"tree": map[string]string{"sha": "tree123"}})
		case r.URL.Path == "/repos/owner/api/git/trees":
			var body struct {
				BaseTree string `json:"base_tree"`
				Tree     []struct {
					Path    string  `json:"path"`
					Content *string `json:"content"`
					SHA     *string `json:"sha"`
				} `json:"tree"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.BaseTree != "tree123" {
				t.Errorf("base_tree = %q", body.BaseTree)
			}
			if len(body.Tree) != 2 {
				t.Fatalf("tree entries = %d", len(body.Tree))
			}
			if body.Tree[0].Content == nil || *body.Tree[0].Content != "new content" {
				t.Error("write entry missing content")
			}
			if body.Tree[1].SHA != nil || body.Tree[1].Content != nil {
				t.Error("delete entry should carry null sha and no content")
			}
			json.NewEncoder(w).Encode(map[string]string{"sha": "newtree"})
		case r.URL.Path == "/repos/owner/api/git/commits":
			json.NewEncoder(w).Encode(map[string]string{"sha": "newcommit"})
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	err := c.CommitFiles(context.Background(), "owner/api", "feature", "update things", []majordomo.FileOp{
		{Op: "write", Path: "main.go", Content: "new content"},
		{Op: "delete", Path: "old.go"},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(calls) != 5 {
		t.Errorf("calls = %v", calls)
	}
}

func TestCreatePullRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/owner/api/pulls" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["head"] != "feature" || body["base"] != "main" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"html_url": "https://github.com/owner/api/pull/7"})
	})

	url, err := c.CreatePullRequest(context.Background(), "owner/api", "feature", "main", "title", "body")
	if err != nil {
		t.Fatalf("create pr: %v", err)
	}
	if url != "https://github.com/owner/api/pull/7" {
		t.Errorf("url = %q", url)
	}
}

func TestSummarize(t *testing.T) {
	todo := "# TODO\n- [x] done thing\n- [ ] ship alerts\n- [ ] fix scheduler\n"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/owner/api":
			json.NewEncoder(w).Encode(map[string]string{"default_branch": "main"})
		case "/repos/owner/api/contents/TODO.md":
			json.NewEncoder(w).Encode(map[string]string{
				"content":  base64.StdEncoding.EncodeToString([]byte(todo)),
				"encoding": "base64",
			})
		case "/repos/owner/api/pulls":
			json.NewEncoder(w).Encode([]map[string]any{{"number": 3, "title": "Add webhook dedup"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	got, err := c.Summarize(context.Background(), "owner/api")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	for _, want := range []string{"Project owner/api", "ship alerts", "fix scheduler", "Add webhook dedup (#3)"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "done thing") {
		t.Error("checked TODO item should not appear")
	}
}
