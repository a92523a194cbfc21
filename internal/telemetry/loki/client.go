// Package loki archives ledger events in Grafana Loki, one stream per event category and action.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Job is the job label on every archived stream.
const Job = "account-ledger"

const unknownCategory = "unknown"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [timestamp_ns, line]
}

var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// ledgerFields are the parts of a ledger event that become labels or the entry time.
// Account and actor ids stay in the line; as labels they would explode stream cardinality.
type ledgerFields struct {
	EventType string    `json:"eventType"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

// Client pushes ledger events to one Loki instance.
type Client struct {
	pushURL string
	tenant  string
	http    *http.Client
	now     func() time.Time
}

// NewClient returns a Client for the Loki at baseURL (e.g. http://localhost:3100).
// tenant, when set, is sent as X-Scope-OrgID.
func NewClient(baseURL, tenant string) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("loki: base URL is empty")
	}
	return &Client{
		pushURL: strings.TrimSuffix(baseURL, "/") + "/loki/api/v1/push",
		tenant:  tenant,
		http:    &http.Client{Timeout: 10 * time.Second},
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// PushEvents archives a batch of raw ledger events in a single request. Lines that are not ledger
// JSON are kept under category "unknown" at the time of the push.
func (c *Client) PushEvents(ctx context.Context, raws [][]byte) error {
	if len(raws) == 0 {
		return nil
	}
	payload, err := json.Marshal(c.batch(raws))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pushURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tenant != "" {
		req.Header.Set("X-Scope-OrgID", c.tenant)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push of %d events returned %s", len(raws), resp.Status)
	}
	return nil
}

type entry struct {
	at   time.Time
	line string
}

// batch groups raws into streams keyed by their label set. Loki expects each stream's values in
// time order; streams are ordered by key so the body is deterministic.
func (c *Client) batch(raws [][]byte) PushRequest {
	labelsByKey := map[string]map[string]string{}
	entriesByKey := map[string][]entry{}
	for _, raw := range raws {
		labels, at := c.classify(raw)
		key := streamKey(labels)
		labelsByKey[key] = labels
		entriesByKey[key] = append(entriesByKey[key], entry{at: at, line: string(raw)})
	}

	keys := make([]string, 0, len(labelsByKey))
	for k := range labelsByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	req := PushRequest{Streams: make([]Stream, 0, len(keys))}
	for _, k := range keys {
		entries := entriesByKey[k]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
		values := make([][]string, 0, len(entries))
		for _, e := range entries {
			values = append(values, []string{strconv.FormatInt(e.at.UnixNano(), 10), e.line})
		}
		req.Streams = append(req.Streams, Stream{Stream: labelsByKey[k], Values: values})
	}
	return req
}

// classify derives the stream labels and entry time of one raw event. eventType
// "moderation.suspend" yields category=moderation, action=suspend.
func (c *Client) classify(raw []byte) (map[string]string, time.Time) {
	labels := map[string]string{"job": Job, "category": unknownCategory}
	var f ledgerFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return labels, c.now()
	}
	category, action, _ := strings.Cut(f.EventType, ".")
	setLabel(labels, "category", category)
	setLabel(labels, "action", action)
	setLabel(labels, "source", f.Source)
	at := f.CreatedAt
	if at.IsZero() {
		at = c.now()
	}
	return labels, at
}

func setLabel(labels map[string]string, name, value string) {
	if v := labelSanitize.ReplaceAllString(strings.TrimSpace(value), "_"); v != "" {
		labels[name] = v
	}
}

func streamKey(labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for n := range labels {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(labels[n])
		b.WriteByte(',')
	}
	return b.String()
}
