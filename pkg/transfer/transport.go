package transfer

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

var ErrAttachmentTooLarge = errors.New("attachment exceeds maximum size")

// Pacing constants: a small concurrency window with a pause between
// windows trades throughput against relay rate limits
const (
	chunkSendWindow = 3
	batchPause      = 150 * time.Millisecond
)

// SendFunc delivers one encrypted payload to a recipient through the
// relay pool
type SendFunc func(recipient string, payload *protocol.Payload) error

// ProgressFunc reports outbound chunk progress as (chunksSent, totalChunks)
type ProgressFunc func(sent, total int)

// Transport splits outbound attachments into paced chunk envelopes and
// feeds inbound chunks into the store, reporting the first transition to
// complete.
type Transport struct {
	store   *Store
	send    SendFunc
	maxSize int64
}

// NewTransport wires the chunk accumulator to an outbound send path
func NewTransport(store *Store, send SendFunc) *Transport {
	return &Transport{store: store, send: send, maxSize: protocol.MaxAttachmentSize}
}

// SendAttachment ships an attachment to a recipient. Small files are
// embedded inline in one envelope; larger ones become one metadata
// envelope plus fixed-size chunk envelopes. The size ceiling is checked
// before any network activity.
func (t *Transport) SendAttachment(recipient, fileName, mimeType string, data []byte, progress ProgressFunc) error {
	if int64(len(data)) > t.maxSize {
		return ErrAttachmentTooLarge
	}

	if len(data) <= protocol.InlineThreshold {
		return t.send(recipient, &protocol.Payload{
			Type: protocol.PayloadAttachment,
			Attachment: &protocol.Attachment{
				FileName: fileName,
				MimeType: mimeType,
				Size:     int64(len(data)),
				Data:     data,
			},
		})
	}

	chunks := splitChunks(data, protocol.ChunkSize)
	transferID := uuid.NewString()

	meta := &protocol.Payload{
		Type: protocol.PayloadAttachmentMeta,
		Meta: &protocol.TransferMeta{
			TransferID:  transferID,
			FileName:    fileName,
			MimeType:    mimeType,
			Size:        int64(len(data)),
			TotalChunks: len(chunks),
		},
	}
	if err := t.send(recipient, meta); err != nil {
		return err
	}

	log.Printf("📤 Sending %s as %d chunks (transfer %s)", fileName, len(chunks), transferID)

	sent := 0
	for start := 0; start < len(chunks); start += chunkSendWindow {
		end := start + chunkSendWindow
		if end > len(chunks) {
			end = len(chunks)
		}

		// Each window is awaited as a group before the next starts
		var wg sync.WaitGroup
		errs := make([]error, end-start)
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				errs[idx-start] = t.send(recipient, &protocol.Payload{
					Type: protocol.PayloadAttachmentChunk,
					Chunk: &protocol.TransferChunk{
						TransferID:  transferID,
						Index:       idx,
						TotalChunks: len(chunks),
						Data:        chunks[idx],
					},
				})
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return err
			}
		}

		sent = end
		if progress != nil {
			progress(sent, len(chunks))
		}
		if end < len(chunks) {
			time.Sleep(batchPause)
		}
	}

	return nil
}

// HandleMeta records an inbound transfer announcement
func (t *Transport) HandleMeta(meta *protocol.TransferMeta, sender string) error {
	return t.store.UpsertMeta(meta, sender)
}

// HandleChunk stores an inbound chunk and returns the transfer record on
// the first transition to complete, nil otherwise. Chunks may arrive
// before their metadata, out of index order, and more than once.
func (t *Transport) HandleChunk(chunk *protocol.TransferChunk, sender string) (*Transfer, error) {
	stored, completed, err := t.store.StoreChunk(chunk, sender)
	if err != nil {
		return nil, err
	}
	if !stored || !completed {
		return nil, nil
	}

	tr, err := t.store.Transfer(chunk.TransferID)
	if err != nil {
		return nil, err
	}
	log.Printf("📥 Transfer %s complete (%d chunks)", tr.TransferID, tr.TotalChunks)
	return tr, nil
}

// Assemble reconstructs a completed transfer's bytes on demand, deferred
// to consumption time so the whole file is not held in memory twice
func (t *Transport) Assemble(transferID string) ([]byte, error) {
	return t.store.Assemble(transferID)
}

// splitChunks cuts data into fixed-size chunks; the final chunk carries
// the remainder
func splitChunks(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}
