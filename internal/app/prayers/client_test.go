package prayers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_RoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	row, err := c.Create(ctx, "Grant us sincerity")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if row, err = c.Ameen(ctx, row.ID, 0); err != nil || row.AmeenCount != 1 {
		t.Fatalf("Ameen: %+v %v", row, err)
	}

	if _, err := c.Login(ctx, "nope"); !isStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}
	token, err := c.Login(ctx, "open-sesame")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if row, err = c.SetPublished(ctx, token, row.ID, false); err != nil || row.IsPublished {
		t.Fatalf("SetPublished: %+v %v", row, err)
	}

	public, err := c.List(ctx, "public", "")
	if err != nil || len(public) != 0 {
		t.Fatalf("public list: %v %v", public, err)
	}
	all, err := c.List(ctx, "admin", token)
	if err != nil || len(all) != 1 {
		t.Fatalf("admin list: %v %v", all, err)
	}

	history, err := c.History(ctx, token, row.ID, 10)
	if err != nil || len(history) != 2 {
		t.Fatalf("History: %v %v", history, err)
	}

	if err := c.Delete(ctx, token, row.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(ctx, token, row.ID); !isStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404, got %v", err)
	}
	if err := c.Logout(ctx, token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := c.List(ctx, "admin", token); !isStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 after logout, got %v", err)
	}
}

func isStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
