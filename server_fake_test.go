// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// childKeys maps an object type to the member listing its children
var childKeys = map[string]string{
	"network": "device",
	"device":  "value",
	"value":   "state",
}

// fakeServer is an in-memory object store answering the IoT API
//
// Objects are kept by their object URL (/device/<id>); children are
// listed per parent so searches and child lists work.
type fakeServer struct {
	mu       sync.Mutex
	objects  map[string]string
	children map[string][]string
	requests []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		objects:  make(map[string]string),
		children: make(map[string][]string),
	}
}

// put stores an object directly, as if it had been created earlier
func (s *fakeServer) put(kind, id, parent, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, _ = sjson.Set(raw, "meta.id", id)
	s.objects["/"+kind+"/"+id] = raw
	if parent != "" {
		s.children[parent] = append(s.children[parent], id)
	}
}

func (s *fakeServer) object(objectURL string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[objectURL]
	return raw, ok
}

// count returns how many requests matched method and url prefix
func (s *fakeServer) count(method, prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if strings.HasPrefix(r, method+" "+prefix) {
			n++
		}
	}
	return n
}

func (s *fakeServer) respond(sent []byte) [][]byte {
	root := gjson.ParseBytes(sent)
	reqs := []gjson.Result{root}
	if root.IsArray() {
		reqs = root.Array()
	}
	var replies [][]byte
	for _, req := range reqs {
		id := req.Get("id")
		if !id.Exists() || !req.Get("method").Exists() {
			continue
		}
		value, ok := s.handle(req.Get("method").String(), req.Get("params.url").String(), req.Get("params.data"))
		if !ok {
			replies = append(replies, errorReplyFor(id.Raw, int(json2.E_BAD_PARAMS), "object not found"))
			continue
		}
		replies = append(replies, []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"value":%s}}`, id.Raw, value)))
	}
	return replies
}

func (s *fakeServer) handle(method, rawURL string, data gjson.Result) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, method+" "+rawURL)

	path, query, _ := strings.Cut(rawURL, "?")
	segments := strings.Split(strings.Trim(path, "/"), "/")

	switch method {
	case "GET":
		if query != "" {
			return s.search(path, query), true
		}
		raw, ok := s.objects[path]
		if !ok {
			return "", false
		}
		if key, ok := childKeys[segments[0]]; ok {
			raw, _ = sjson.Set(raw, key, s.childList(path+"/"+key))
		}
		return raw, true

	case "POST":
		objID := data.Get("meta.id").String()
		switch len(segments) {
		case 1:
			s.objects["/network/"+objID] = data.Raw
		case 3:
			kind := segments[2]
			if _, exists := s.objects["/"+kind+"/"+objID]; !exists {
				parent := "/" + segments[0] + "/" + segments[1] + "/" + kind
				s.children[parent] = append(s.children[parent], objID)
			}
			s.objects["/"+kind+"/"+objID] = data.Raw
		}
		return "true", true

	case "PUT":
		if _, ok := s.objects[path]; !ok {
			return "", false
		}
		s.objects[path] = data.Raw
		return "true", true

	case "DELETE":
		if _, ok := s.objects[path]; !ok {
			return "", false
		}
		delete(s.objects, path)
		return "true", true

	case "HEAD":
		return "true", true
	}
	return "", false
}

// childList returns the ids of the children still present
func (s *fakeServer) childList(parent string) []string {
	kind := parent[strings.LastIndexByte(parent, '/')+1:]
	ids := []string{}
	for _, id := range s.children[parent] {
		if _, ok := s.objects["/"+kind+"/"+id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// search answers this_<key>==<value> over the children of parent
func (s *fakeServer) search(parent, query string) string {
	field, want, _ := strings.Cut(strings.TrimPrefix(query, "this_"), "==")
	want, _ = url.QueryUnescape(want)
	kind := parent[strings.LastIndexByte(parent, '/')+1:]

	ids := []string{}
	for _, id := range s.childList(parent) {
		if gjson.Get(s.objects["/"+kind+"/"+id], field).String() == want {
			ids = append(ids, id)
		}
	}
	out, _ := sjson.Set(`{"more":false,"limit":1000}`, "id", ids)
	out, _ = sjson.Set(out, "count", len(ids))
	return out
}
