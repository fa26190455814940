// Package workspace fetches full narrative documents from the KBase
// workspace service.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"navigator/internal/auth"
	"navigator/internal/jsonrpc"
	"navigator/internal/narrative"
)

// Client wraps Workspace.get_objects2.
type Client struct {
	rpc     *jsonrpc.Client
	group   singleflight.Group
	timeout time.Duration
	logger  *zap.Logger
}

func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{rpc: jsonrpc.New(url, "workspace", timeout), timeout: timeout, logger: logger}
}

type objectSpec struct {
	Ref string `json:"ref"`
}

type getObjectsParams struct {
	Objects []objectSpec `json:"objects"`
}

type objectData struct {
	Data narrativeObject   `json:"data"`
	Info []json.RawMessage `json:"info"`
}

type getObjectsResult struct {
	Data []objectData `json:"data"`
}

type narrativeObject struct {
	Cells    []narrative.Cell `json:"cells"`
	Metadata struct {
		Name    string `json:"name"`
		Creator string `json:"creator"`
	} `json:"metadata"`
}

// objectInfo is the decoded workspace object_info tuple.
type objectInfo struct {
	ObjID    int
	Name     string
	Type     string
	SaveDate string
	Version  int
	SavedBy  string
	WsID     int
	Meta     map[string]string
}

func decodeInfo(raw []json.RawMessage) (objectInfo, error) {
	var info objectInfo
	if len(raw) < 11 {
		return info, fmt.Errorf("object info has %d fields, want 11", len(raw))
	}
	fields := []struct {
		idx    int
		target any
	}{
		{0, &info.ObjID},
		{1, &info.Name},
		{2, &info.Type},
		{3, &info.SaveDate},
		{4, &info.Version},
		{5, &info.SavedBy},
		{6, &info.WsID},
	}
	for _, f := range fields {
		if err := json.Unmarshal(raw[f.idx], f.target); err != nil {
			return info, fmt.Errorf("object info field %d: %w", f.idx, err)
		}
	}
	if string(raw[10]) != "null" {
		if err := json.Unmarshal(raw[10], &info.Meta); err != nil {
			return info, fmt.Errorf("object info metadata: %w", err)
		}
	}
	return info, nil
}

// FetchNarrative returns the document at key, cells included. Concurrent
// calls for the same key and token share one upstream request; that request
// outlives any single caller, and each caller stops waiting when its own ctx
// is done.
func (c *Client) FetchNarrative(ctx context.Context, key narrative.Key, token string) (narrative.Doc, error) {
	flightKey := key.String() + "|" + auth.HashToken(token)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(fetchCtx, key, token)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return narrative.Doc{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return narrative.Doc{}, res.Err
	}
	if res.Shared {
		c.logger.Debug("narrative fetch shared", zap.String("upa", key.String()))
	}
	doc := res.Val.(narrative.Doc)
	// shared results must not alias the same cell slice
	doc.Cells = append([]narrative.Cell(nil), doc.Cells...)
	return doc, nil
}

// FetchOldVersion fetches an explicitly requested earlier version.
func (c *Client) FetchOldVersion(ctx context.Context, id, obj, ver int, token string) (narrative.Doc, error) {
	doc, err := c.FetchNarrative(ctx, narrative.Key{ID: id, Obj: obj, Ver: ver}, token)
	if err != nil {
		return narrative.Doc{}, err
	}
	if narrative.ApplyObjectIDShim(&doc, obj) {
		c.logger.Debug("patched object id on old version", zap.Int("obj", obj), zap.Int("ver", ver))
	}
	return doc, nil
}

func (c *Client) fetch(ctx context.Context, key narrative.Key, token string) (narrative.Doc, error) {
	params := []any{getObjectsParams{Objects: []objectSpec{{Ref: key.String()}}}}
	var result []getObjectsResult
	if err := c.rpc.Call(ctx, "Workspace.get_objects2", params, token, &result); err != nil {
		return narrative.Doc{}, fmt.Errorf("fetch narrative %s: %w", key, err)
	}
	if len(result) == 0 || len(result[0].Data) == 0 {
		return narrative.Doc{}, fmt.Errorf("fetch narrative %s: no object returned", key)
	}

	obj := result[0].Data[0]
	info, err := decodeInfo(obj.Info)
	if err != nil {
		return narrative.Doc{}, fmt.Errorf("fetch narrative %s: %w", key, err)
	}
	return toDoc(info, obj.Data), nil
}

func toDoc(info objectInfo, data narrativeObject) narrative.Doc {
	typeModule, typeVersion, _ := strings.Cut(info.Type, "-")

	title := info.Meta["name"]
	if title == "" {
		title = data.Metadata.Name
	}
	creator := data.Metadata.Creator
	if creator == "" {
		creator = info.Meta["creator"]
	}

	cells := data.Cells
	if cells == nil {
		cells = []narrative.Cell{}
	}

	doc := narrative.Doc{
		AccessGroup:    info.WsID,
		ObjID:          info.ObjID,
		Version:        info.Version,
		Title:          title,
		ObjName:        info.Name,
		ObjTypeModule:  typeModule,
		ObjTypeVersion: typeVersion,
		Creator:        creator,
		IsTemporary:    info.Meta["is_temporary"] == "true",
		Cells:          cells,
		TotalCells:     len(cells),
	}
	if saved, err := time.Parse("2006-01-02T15:04:05-0700", info.SaveDate); err == nil {
		doc.Timestamp = saved.UnixMilli()
		doc.ModifiedAt = doc.Timestamp
	}
	return doc
}
