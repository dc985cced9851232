// Package stream consumes event-tagged text streams (event:/data: lines separated
// by blank lines) produced by the agent API and turns them into typed callbacks.
package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/caam1406/clawdesk/pkg/logger"
)

const (
	eventPrefix  = "event:"
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// Handlers receives decoded events. Nil callbacks are skipped.
// Exactly one of OnComplete or OnError fires per stream unless the context is cancelled,
// in which case neither fires.
type Handlers struct {
	OnStatus   func(StatusEvent)
	OnMessage  func(MessageEvent)
	OnChunk    func(ChunkEvent)
	OnComplete func(full string)
	OnError    func(err error)
}

func (h Handlers) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handlers) complete(full string) {
	if h.OnComplete != nil {
		h.OnComplete(full)
	}
}

// RemoteError is an error event sent in-band by the server. It ends the stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "stream error: " + e.Message
}

// Read decodes r until EOF and dispatches events to h in stream order.
// Lines are only processed once their newline has arrived; a trailing partial
// line is flushed when the stream ends. Malformed data lines are logged and skipped.
func Read(ctx context.Context, r io.Reader, h Handlers) error {
	d := &decoder{h: h}
	if err := d.run(ctx, r); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.DebugCF("stream", "Stream aborted", map[string]interface{}{
				"error": err.Error(),
			})
			return ctxErr
		}
		h.fail(err)
		return err
	}
	h.complete(d.full.String())
	return nil
}

type decoder struct {
	h      Handlers
	marker string
	full   strings.Builder
}

func (d *decoder) run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := br.ReadString('\n')
		if line != "" {
			if perr := d.processLine(strings.TrimRight(line, "\r\n")); perr != nil {
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (d *decoder) processLine(line string) error {
	switch {
	case line == "":
		d.marker = ""
	case strings.HasPrefix(line, eventPrefix):
		d.marker = strings.TrimSpace(line[len(eventPrefix):])
	case strings.HasPrefix(line, dataPrefix):
		data := strings.TrimSpace(line[len(dataPrefix):])
		marker := d.marker
		d.marker = ""
		return d.dispatch(marker, data)
	}
	// comments (":") and other fields such as id: and retry: are ignored
	return nil
}

func (d *decoder) dispatch(marker, data string) error {
	if data == "" || data == doneSentinel {
		return nil
	}

	ev, err := Parse(marker, []byte(data))
	if err != nil {
		logger.WarnCF("stream", "Skipping malformed event data", map[string]interface{}{
			"event": marker,
			"error": err.Error(),
		})
		return nil
	}

	switch e := ev.(type) {
	case StatusEvent:
		if d.h.OnStatus != nil {
			d.h.OnStatus(e)
		}
	case MessageEvent:
		if d.h.OnMessage != nil {
			d.h.OnMessage(e)
		}
	case ChunkEvent:
		d.full.WriteString(e.Content)
		if d.h.OnChunk != nil {
			d.h.OnChunk(e)
		}
	case CompleteEvent:
		if e.Content != "" {
			d.full.Reset()
			d.full.WriteString(e.Content)
		}
	case ErrorEvent:
		return &RemoteError{Message: e.Message}
	default:
		logger.DebugCF("stream", "Ignoring unrecognised event", map[string]interface{}{
			"event": marker,
		})
	}
	return nil
}
