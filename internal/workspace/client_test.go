package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"navigator/internal/jsonrpc"
	"navigator/internal/narrative"
)

const narrativePayload = `{
  "cells": [
    {"cell_type": "markdown", "source": "# Intro\nSome text", "metadata": {}},
    {"cell_type": "code", "source": ["x = 1\n", "print(x)"], "metadata": {"kbase": {"type": "app", "attributes": {"title": "Assemble"}, "appCell": {"app": {"id": "kb_spades/run_SPAdes", "tag": "release"}}}}}
  ],
  "metadata": {"name": "Genome assembly", "creator": "amy"}
}`

type wsServer struct {
	calls   atomic.Int32
	objID   int
	lastRef string
	mu      sync.Mutex
	delay   time.Duration
}

func (s *wsServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		var req struct {
			Method string `json:"method"`
			Params []struct {
				Objects []struct {
					Ref string `json:"ref"`
				} `json:"objects"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Method != "Workspace.get_objects2" {
			t.Errorf("unexpected method %q", req.Method)
		}
		ref := req.Params[0].Objects[0].Ref
		s.mu.Lock()
		s.lastRef = ref
		s.mu.Unlock()
		if s.delay > 0 {
			time.Sleep(s.delay)
		}

		if ref == "9/9/9" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"version":"1.1","error":{"name":"JSONRPCError","code":-32500,"message":"No object with id 9 exists in workspace 9"}}`))
			return
		}

		var id, obj, ver int
		_, _ = fmt.Sscanf(ref, "%d/%d/%d", &id, &obj, &ver)
		if s.objID >= 0 {
			obj = s.objID
		}
		info := fmt.Sprintf(`[%d,"Narrative.1","KBaseNarrative.Narrative-4.0","2023-04-05T06:07:08+0000",%d,"amy",%d,"amy:narrative_1","abc",1234,{"name":"Genome assembly","is_temporary":"false"}]`, obj, ver, id)
		_, _ = fmt.Fprintf(w, `{"version":"1.1","result":[{"data":[{"data":%s,"info":%s}]}]}`, narrativePayload, info)
	}
}

func newTestClient(t *testing.T, s *wsServer) *Client {
	srv := httptest.NewServer(s.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, zap.NewNop())
}

func TestFetchNarrative(t *testing.T) {
	s := &wsServer{objID: -1}
	c := newTestClient(t, s)

	doc, err := c.FetchNarrative(context.Background(), narrative.Key{ID: 12, Obj: 1, Ver: 4}, "tok")
	if err != nil {
		t.Fatalf("FetchNarrative() error = %v", err)
	}
	if s.lastRef != "12/1/4" {
		t.Errorf("unexpected ref %q", s.lastRef)
	}
	if doc.Key() != (narrative.Key{ID: 12, Obj: 1, Ver: 4}) {
		t.Errorf("unexpected key %v", doc.Key())
	}
	if doc.Title != "Genome assembly" || doc.Creator != "amy" {
		t.Errorf("unexpected doc %+v", doc)
	}
	if doc.ObjTypeModule != "KBaseNarrative.Narrative" || doc.ObjTypeVersion != "4.0" {
		t.Errorf("unexpected type split %q %q", doc.ObjTypeModule, doc.ObjTypeVersion)
	}
	if len(doc.Cells) != 2 || doc.TotalCells != 2 {
		t.Fatalf("expected 2 cells, got %d", len(doc.Cells))
	}
	if doc.Cells[1].Source != "x = 1\nprint(x)" {
		t.Errorf("line-list source not joined: %q", doc.Cells[1].Source)
	}
	if doc.Cells[1].Metadata.KBase.AppCell.App.ID != "kb_spades/run_SPAdes" {
		t.Errorf("app metadata lost: %+v", doc.Cells[1].Metadata.KBase)
	}
	want := time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC)
	if !doc.UpdatedAt().Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", doc.UpdatedAt(), want)
	}
}

func TestFetchOldVersionAppliesObjectIDShim(t *testing.T) {
	s := &wsServer{objID: 0}
	c := newTestClient(t, s)

	doc, err := c.FetchOldVersion(context.Background(), 12, 1, 3, "tok")
	if err != nil {
		t.Fatalf("FetchOldVersion() error = %v", err)
	}
	if doc.ObjID != 1 || doc.Version != 3 || doc.AccessGroup != 12 {
		t.Errorf("unexpected key %v", doc.Key())
	}
}

func TestFetchNarrativeCarriesServerMessage(t *testing.T) {
	c := newTestClient(t, &wsServer{objID: -1})

	_, err := c.FetchNarrative(context.Background(), narrative.Key{ID: 9, Obj: 9, Ver: 9}, "tok")
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpc error, got %v", err)
	}
	if rpcErr.Message != "No object with id 9 exists in workspace 9" {
		t.Errorf("unexpected message %q", rpcErr.Message)
	}
}

func TestFetchNarrativeCollapsesConcurrentCalls(t *testing.T) {
	s := &wsServer{objID: -1, delay: 100 * time.Millisecond}
	c := newTestClient(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.FetchNarrative(context.Background(), narrative.Key{ID: 1, Obj: 1, Ver: 1}, "tok"); err != nil {
				t.Errorf("FetchNarrative() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := s.calls.Load(); got >= 5 {
		t.Errorf("expected concurrent fetches to be collapsed, got %d calls", got)
	}
}

func TestFetchNarrativeSurvivesCancelledFirstCaller(t *testing.T) {
	s := &wsServer{objID: -1, delay: 150 * time.Millisecond}
	c := newTestClient(t, s)
	key := narrative.Key{ID: 1, Obj: 1, Ver: 1}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.FetchNarrative(firstCtx, key, "tok")
		firstErr <- err
	}()
	deadline := time.Now().Add(time.Second)
	for s.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first fetch never reached the server")
		}
		time.Sleep(5 * time.Millisecond)
	}

	second := make(chan error, 1)
	go func() {
		_, err := c.FetchNarrative(context.Background(), key, "tok")
		second <- err
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller should see context.Canceled, got %v", err)
	}
	if err := <-second; err != nil {
		t.Errorf("joined caller should still get the document, got %v", err)
	}
	if got := s.calls.Load(); got != 1 {
		t.Errorf("expected one upstream call, got %d", got)
	}
}

func TestDecodeInfoRejectsShortTuple(t *testing.T) {
	if _, err := decodeInfo([]json.RawMessage{json.RawMessage(`1`)}); err == nil {
		t.Fatal("expected error")
	}
}
