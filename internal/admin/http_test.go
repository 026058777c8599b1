package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hearthspace/hearth/internal/handle"
	"github.com/hearthspace/hearth/internal/registry"
)

func TestRouterDebugEndpoints(t *testing.T) {
	store := handle.NewStore()
	reg := registry.New(store)

	cap := store.Insert(handle.NewMailbox(1))
	if _, had := reg.Insert("svc.one", cap); had {
		t.Fatalf("unexpected previous entry for svc.one")
	}

	router := Router(store, reg, nil, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/services")
	if err != nil {
		t.Fatalf("GET /debug/services: %v", err)
	}
	defer resp.Body.Close()
	var services ServicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(services.Services) != 1 || services.Services[0] != "svc.one" {
		t.Fatalf("services = %v, want [svc.one]", services.Services)
	}

	resp2, err := http.Get(srv.URL + "/debug/store")
	if err != nil {
		t.Fatalf("GET /debug/store: %v", err)
	}
	defer resp2.Body.Close()
	var stats StoreStats
	if err := json.NewDecoder(resp2.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.LiveEntries != 1 {
		t.Fatalf("LiveEntries = %d, want 1", stats.LiveEntries)
	}
}
