// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"chanlytics/internal/channel"
	"chanlytics/internal/models"
	"chanlytics/internal/store"
)

// channeledFixture seeds a base customer linked to one shopify and one
// netsuite channeled customer.
type channeledFixture struct {
	base     int64
	shopify  int64
	netsuite int64
}

func seedChanneled(env *testEnv) channeledFixture {
	base := env.Repos.seed("customers", channel.None, nil, `{"name":"Ada"}`)
	return channeledFixture{
		base:     base,
		shopify:  env.Repos.seed("channeled_customers", channel.Shopify, &base, `{"email":"ada@shop"}`),
		netsuite: env.Repos.seed("channeled_customers", channel.NetSuite, &base, `{"email":"ada@ns"}`),
	}
}

func TestChanneledGet_ScopedByChannel(t *testing.T) {
	env := newTestEnv(t)
	fx := seedChanneled(env)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/channels/shopify/customer/%d", fx.shopify), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Get: status %d, body %s", rec.Code, rec.Body.String())
	}
	var got models.Record
	decodeData(t, rec, &got)
	if got.Channel != "shopify" || got.EntityID == nil || *got.EntityID != fx.base {
		t.Errorf("Get returned %+v", got)
	}
	if !env.MR.Exists(fmt.Sprintf("entity:shopify:ChanneledCustomer:%d", fx.shopify)) {
		t.Errorf("channeled entity key missing, keys: %v", env.cacheKeys())
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/channels/netsuite/customer/%d", fx.shopify), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-channel Get: status %d, want 404", rec.Code)
	}

	env.do(t, http.MethodGet, fmt.Sprintf("/api/channels/shopify/customer/%d", fx.shopify), "")
	if n := env.Repos.reads("channeled_customers"); n != 2 {
		t.Errorf("repository reads = %d, want 2 (one per channel)", n)
	}
}

func TestChanneled_RouteErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"unknown channel", http.MethodGet, "/api/channels/myspace/customer", "", http.StatusNotFound},
		{"entity without channeled table", http.MethodGet, "/api/channels/shopify/vendor", "", http.StatusNotFound},
		{"unknown entity", http.MethodGet, "/api/channels/shopify/widget/1", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/channels/shopify/customer/x", "", http.StatusBadRequest},
		{"missing platform id", http.MethodPost, "/api/channels/shopify/customer", `{"data":{}}`, http.StatusBadRequest},
		{"bad entity id", http.MethodPost, "/api/channels/shopify/customer", `{"platform_id":"g1","entity_id":-4}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestChanneledListAndCount_KeysCarryChannel(t *testing.T) {
	env := newTestEnv(t)
	seedChanneled(env)

	rec := env.do(t, http.MethodGet, "/api/channels/shopify/customer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("List: status %d", rec.Code)
	}
	var items []models.Record
	decodeData(t, rec, &items)
	if len(items) != 1 || items[0].Channel != "shopify" {
		t.Errorf("List returned %+v", items)
	}

	rec = env.do(t, http.MethodGet, "/api/channels/netsuite/customer/count", "")
	var n countResult
	decodeData(t, rec, &n)
	if n.Count != 1 {
		t.Errorf("Count = %d, want 1", n.Count)
	}

	if keys := env.keysWithPrefix("channeled_list_ChanneledCustomer_shopify_"); len(keys) != 1 {
		t.Errorf("channeled list keys = %v", env.cacheKeys())
	}
	if keys := env.keysWithPrefix("channeled_count_ChanneledCustomer_netsuite_"); len(keys) != 1 {
		t.Errorf("channeled count keys = %v", env.cacheKeys())
	}
}

func TestChanneledUpdate_InvalidatesBaseAndChannel(t *testing.T) {
	env := newTestEnv(t)
	fx := seedChanneled(env)

	env.do(t, http.MethodGet, fmt.Sprintf("/api/customer/%d", fx.base), "")
	env.do(t, http.MethodGet, "/api/customer", "")
	env.do(t, http.MethodGet, fmt.Sprintf("/api/channels/shopify/customer/%d", fx.shopify), "")
	env.do(t, http.MethodGet, fmt.Sprintf("/api/channels/netsuite/customer/%d", fx.netsuite), "")
	env.do(t, http.MethodGet, "/api/channels/shopify/customer", "")
	env.do(t, http.MethodGet, "/api/channels/netsuite/customer", "")

	body := fmt.Sprintf(`{"platform_id":"gid-1","entity_id":%d,"data":{"email":"ada@new"}}`, fx.base)
	rec := env.do(t, http.MethodPut, fmt.Sprintf("/api/channels/shopify/customer/%d", fx.shopify), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Update: status %d, body %s", rec.Code, rec.Body.String())
	}

	gone := []string{
		fmt.Sprintf("entity:Customer:%d", fx.base),
		fmt.Sprintf("entity:shopify:ChanneledCustomer:%d", fx.shopify),
	}
	for _, k := range gone {
		if env.MR.Exists(k) {
			t.Errorf("%s survived the update", k)
		}
	}
	if keys := env.keysWithPrefix("list_Customer_"); len(keys) != 0 {
		t.Errorf("base list keys survived: %v", keys)
	}
	if keys := env.keysWithPrefix("channeled_list_ChanneledCustomer_shopify_"); len(keys) != 0 {
		t.Errorf("shopify list keys survived: %v", keys)
	}

	kept := fmt.Sprintf("entity:netsuite:ChanneledCustomer:%d", fx.netsuite)
	if !env.MR.Exists(kept) {
		t.Errorf("%s was removed by a shopify write", kept)
	}
	if keys := env.keysWithPrefix("channeled_list_ChanneledCustomer_netsuite_"); len(keys) != 1 {
		t.Errorf("netsuite list keys removed by a shopify write: %v", env.cacheKeys())
	}

	entries := env.Log.all()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if e := entries[0]; e.EntityType != "ChanneledCustomer" || e.Channel != "shopify" || e.Action != store.ActionUpdate {
		t.Errorf("log entry = %+v", e)
	}
}

func TestChanneledUpdate_RelinkInvalidatesBothBases(t *testing.T) {
	env := newTestEnv(t)
	fx := seedChanneled(env)
	other := env.Repos.seed("customers", channel.None, nil, `{"name":"Grace"}`)

	env.do(t, http.MethodGet, fmt.Sprintf("/api/customer/%d", fx.base), "")
	env.do(t, http.MethodGet, fmt.Sprintf("/api/customer/%d", other), "")

	body := fmt.Sprintf(`{"platform_id":"gid-1","entity_id":%d}`, other)
	rec := env.do(t, http.MethodPut, fmt.Sprintf("/api/channels/shopify/customer/%d", fx.shopify), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Update: status %d", rec.Code)
	}

	for _, id := range []int64{fx.base, other} {
		if k := fmt.Sprintf("entity:Customer:%d", id); env.MR.Exists(k) {
			t.Errorf("%s survived the relink", k)
		}
	}
}

func TestChanneledCreate_Unlinked(t *testing.T) {
	env := newTestEnv(t)
	fx := seedChanneled(env)

	env.do(t, http.MethodGet, fmt.Sprintf("/api/customer/%d", fx.base), "")
	env.do(t, http.MethodGet, "/api/channels/klaviyo/customer", "")

	rec := env.do(t, http.MethodPost, "/api/channels/klaviyo/customer", `{"platform_id":"k-1","data":{"email":"x@y"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Create: status %d, body %s", rec.Code, rec.Body.String())
	}
	var created models.Record
	decodeData(t, rec, &created)
	if created.Channel != "klaviyo" || created.PlatformID != "k-1" || created.EntityID != nil {
		t.Errorf("Create returned %+v", created)
	}

	if keys := env.keysWithPrefix("channeled_list_ChanneledCustomer_klaviyo_"); len(keys) != 0 {
		t.Errorf("klaviyo list keys survived: %v", keys)
	}
	if !env.MR.Exists(fmt.Sprintf("entity:Customer:%d", fx.base)) {
		t.Error("unlinked create removed a base entity key")
	}
}

func TestChanneledDelete(t *testing.T) {
	env := newTestEnv(t)
	fx := seedChanneled(env)
	target := fmt.Sprintf("/api/channels/shopify/customer/%d", fx.shopify)

	env.do(t, http.MethodGet, fmt.Sprintf("/api/customer/%d", fx.base), "")
	env.do(t, http.MethodGet, target, "")

	if rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/channels/netsuite/customer/%d", fx.shopify), ""); rec.Code != http.StatusNotFound {
		t.Errorf("cross-channel Delete: status %d, want 404", rec.Code)
	}

	rec := env.do(t, http.MethodDelete, target, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Delete: status %d", rec.Code)
	}
	if env.MR.Exists(fmt.Sprintf("entity:Customer:%d", fx.base)) {
		t.Error("linked base entity key survived the delete")
	}
	if rec := env.do(t, http.MethodGet, target, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Get after delete: status %d, want 404", rec.Code)
	}
}

func TestLinkedIDs(t *testing.T) {
	one, two := int64p(1), int64p(2)

	tests := []struct {
		name       string
		prev, next *int64
		want       int
	}{
		{"same link", one, int64p(1), 1},
		{"relinked", one, two, 2},
		{"unlinked", nil, nil, 2},
		{"newly linked", nil, two, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := linkedIDs(tt.prev, tt.next); len(got) != tt.want {
				t.Errorf("linkedIDs = %v, want %d entries", got, tt.want)
			}
		})
	}
}
