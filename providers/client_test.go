package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestItems_PathAndFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"results":[{"name":"a","link":"https://a"},{"name":"b","link":"https://b"}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	items, err := c.Items(context.Background(), APIRequest{
		URL:        srv.URL,
		ResultPath: "data.results",
		Fields:     map[string]string{"title": "name", "url": "link"},
	})
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0]["title"] != "a" || items[0]["url"] != "https://a" {
		t.Fatalf("fields not remapped: %+v", items[0])
	}
	if _, ok := items[0]["name"]; ok {
		t.Fatal("vendor key leaked through remap")
	}
}

func TestItems_NumericPathIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tasks":[{"result":[{"items":[{"title":"x"}]}]}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	items, err := c.Items(context.Background(), APIRequest{
		URL:        srv.URL,
		ResultPath: "tasks.0.result.0.items",
	})
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 1 || items[0]["title"] != "x" {
		t.Fatalf("numeric path walk failed: %+v", items)
	}
}

func TestItems_HeaderEnvExpansion(t *testing.T) {
	t.Setenv("RADAR_TEST_TOKEN", "sekrit")
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	if _, err := c.Items(context.Background(), APIRequest{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer ${RADAR_TEST_TOKEN}"},
	}); err != nil {
		t.Fatalf("items: %v", err)
	}
	if got != "Bearer sekrit" {
		t.Fatalf("header = %q, want expanded token", got)
	}
}

func TestItems_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	if _, err := c.Items(context.Background(), APIRequest{URL: srv.URL}); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"company":{"name":"Burton","metrics":{"employees":800}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	obj, err := c.Object(context.Background(), APIRequest{URL: srv.URL, ResultPath: "company"})
	if err != nil {
		t.Fatalf("object: %v", err)
	}
	if obj["name"] != "Burton" {
		t.Fatalf("unexpected object: %+v", obj)
	}
}

func TestWalk_MissingKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"other":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client())
	if _, err := c.Items(context.Background(), APIRequest{URL: srv.URL, ResultPath: "missing"}); err == nil {
		t.Fatal("expected error for missing path")
	}
}
