package agenthttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"pkt.systems/spacedock/schema"
	"pkt.systems/spacedock/space"
)

// StreamEvents opens the session's JSONL transcript stream starting after
// the given sequence. The response body stays open until the caller closes
// the stream or the context ends.
func (c *Client) StreamEvents(ctx context.Context, id schema.SessionID, afterSeq int64) (space.EventStream, error) {
	op := "stream " + string(id)
	endpoint := c.baseURL + "/v1/sessions/" + url.PathEscape(string(id)) + "/events?after=" + strconv.FormatInt(afterSeq, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, space.NewAgentError(space.AgentErrorProtocol, op, err)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, space.NewAgentError(classifyTransport(ctx, err), op, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.statusError(op, resp)
	}
	return &jsonlEventStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// jsonlEventStream decodes newline-delimited transcript events. Blank lines
// are keep-alives and skipped; a malformed line ends the stream with a
// protocol error rather than silently dropping events.
type jsonlEventStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func (s *jsonlEventStream) Next(ctx context.Context) (schema.AgentEvent, error) {
	for {
		if ctx.Err() != nil {
			return schema.AgentEvent{}, ctx.Err()
		}
		line, err := s.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return schema.AgentEvent{}, io.EOF
			}
			return schema.AgentEvent{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return schema.AgentEvent{}, err
			}
			continue
		}
		var event schema.AgentEvent
		if decodeErr := json.Unmarshal(line, &event); decodeErr != nil {
			return schema.AgentEvent{}, space.NewAgentError(space.AgentErrorProtocol, "stream decode",
				fmt.Errorf("bad event line: %w", decodeErr))
		}
		if len(event.Payload) == 0 {
			event.Payload = append(json.RawMessage(nil), line...)
		}
		return event, nil
	}
}

func (s *jsonlEventStream) Close() error {
	return s.body.Close()
}
