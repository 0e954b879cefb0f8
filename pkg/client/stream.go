package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nkkko/docsync/pkg/proto"
)

// Frame types a document stream may carry besides documents
const (
	FrameHeartbeat = "heartbeat"
	FrameError     = "error"
)

var (
	// ErrStreamStopped is returned by Next after Stop
	ErrStreamStopped = errors.New("stream stopped")

	// ErrStreamClosed is returned when the service closes the stream
	ErrStreamClosed = errors.New("stream closed by server")
)

// Stream is the websocket change stream of one document
type Stream struct {
	conn       *websocket.Conn
	collection string
	docs       chan *proto.Document
	done       chan struct{}
	err        error // set before docs is closed
	stopOnce   sync.Once
}

func newStream(conn *websocket.Conn, collection string) *Stream {
	return &Stream{
		conn:       conn,
		collection: collection,
		docs:       make(chan *proto.Document),
		done:       make(chan struct{}),
	}
}

func (s *Stream) readLoop() {
	defer close(s.docs)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.err = ErrStreamClosed
			} else {
				s.err = fmt.Errorf("read stream: %w", err)
			}
			return
		}

		var frame proto.StreamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.err = fmt.Errorf("decode frame: %w", err)
			return
		}

		switch frame.Type {
		case FrameHeartbeat:
			continue
		case FrameError:
			s.err = proto.NewError(frame.Message)
			return
		}

		var doc proto.Document
		if err := json.Unmarshal(message, &doc); err != nil {
			s.err = fmt.Errorf("decode document: %w", err)
			return
		}
		if doc.Collection == "" {
			doc.Collection = s.collection
		}

		select {
		case s.docs <- &doc:
		case <-s.done:
			return
		}
	}
}

// Next returns the next document sent by the service
func (s *Stream) Next(ctx context.Context) (*proto.Document, error) {
	select {
	case <-s.done:
		return nil, ErrStreamStopped
	default:
	}

	select {
	case doc, ok := <-s.docs:
		if !ok {
			if s.err == nil {
				return nil, ErrStreamStopped
			}
			return nil, s.err
		}
		return doc, nil
	case <-s.done:
		return nil, ErrStreamStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop closes the websocket. Safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.conn.Close()
	})
}
