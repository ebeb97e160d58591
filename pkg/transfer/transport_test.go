package transfer

import (
	"bytes"
	"sync"
	"testing"

	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

// captureSend collects outbound payloads in order of completion
type captureSend struct {
	mu       sync.Mutex
	payloads []*protocol.Payload
}

func (c *captureSend) send(_ string, p *protocol.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
	return nil
}

func (c *captureSend) byType(typ string) []*protocol.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Payload
	for _, p := range c.payloads {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

func TestSendAttachmentInline(t *testing.T) {
	cap := &captureSend{}
	tr := NewTransport(testStore(t), cap.send)

	data := []byte("small enough")
	if err := tr.SendAttachment("peer", "note.txt", "text/plain", data, nil); err != nil {
		t.Fatalf("SendAttachment() error = %v", err)
	}

	inline := cap.byType(protocol.PayloadAttachment)
	if len(inline) != 1 {
		t.Fatalf("%d inline payloads, want 1", len(inline))
	}
	if !bytes.Equal(inline[0].Attachment.Data, data) {
		t.Error("inline attachment data mismatch")
	}
	if len(cap.byType(protocol.PayloadAttachmentMeta)) != 0 {
		t.Error("inline attachment produced a metadata envelope")
	}
}

func TestSendAttachment600KiB(t *testing.T) {
	cap := &captureSend{}
	tr := NewTransport(testStore(t), cap.send)

	data := make([]byte, 600*1024)
	for i := range data {
		data[i] = byte(i)
	}

	var progress [][2]int
	err := tr.SendAttachment("peer", "clip.mp4", "video/mp4", data, func(sent, total int) {
		progress = append(progress, [2]int{sent, total})
	})
	if err != nil {
		t.Fatalf("SendAttachment() error = %v", err)
	}

	metas := cap.byType(protocol.PayloadAttachmentMeta)
	if len(metas) != 1 {
		t.Fatalf("%d metadata envelopes, want 1", len(metas))
	}
	if metas[0].Meta.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3", metas[0].Meta.TotalChunks)
	}

	chunks := cap.byType(protocol.PayloadAttachmentChunk)
	if len(chunks) != 3 {
		t.Fatalf("%d chunk envelopes, want 3", len(chunks))
	}

	sizes := map[int]int{}
	for _, p := range chunks {
		sizes[p.Chunk.Index] = len(p.Chunk.Data)
	}
	want := map[int]int{0: 256 * 1024, 1: 256 * 1024, 2: 88 * 1024}
	for idx, size := range want {
		if sizes[idx] != size {
			t.Errorf("chunk %d size = %d, want %d", idx, sizes[idx], size)
		}
	}

	final := progress[len(progress)-1]
	if final != [2]int{3, 3} {
		t.Errorf("final progress = %v, want (3,3)", final)
	}
}

func TestSendAttachmentCeiling(t *testing.T) {
	calls := 0
	tr := NewTransport(testStore(t), func(string, *protocol.Payload) error {
		calls++
		return nil
	})
	tr.maxSize = 1024 // stand-in for the 2 GiB ceiling

	data := make([]byte, 1025)
	if err := tr.SendAttachment("peer", "big.bin", "application/octet-stream", data, nil); err != ErrAttachmentTooLarge {
		t.Fatalf("SendAttachment() over ceiling error = %v, want ErrAttachmentTooLarge", err)
	}
	if calls != 0 {
		t.Errorf("%d envelopes sent before the size check, want 0", calls)
	}
}

func TestHandleChunkCompletionFiresOnce(t *testing.T) {
	tr := NewTransport(testStore(t), func(string, *protocol.Payload) error { return nil })

	tr.HandleMeta(&protocol.TransferMeta{
		TransferID: "tr-x", FileName: "doc.pdf", MimeType: "application/pdf",
		Size: 6, TotalChunks: 3,
	}, "alice")

	fires := 0
	for _, idx := range []int{2, 0, 0, 1, 2} { // duplicates included
		done, err := tr.HandleChunk(&protocol.TransferChunk{
			TransferID: "tr-x", Index: idx, TotalChunks: 3, Data: []byte{byte(idx), byte(idx)},
		}, "alice")
		if err != nil {
			t.Fatalf("HandleChunk(%d) error = %v", idx, err)
		}
		if done != nil {
			fires++
			if done.FileName != "doc.pdf" {
				t.Errorf("completed transfer FileName = %s, want doc.pdf", done.FileName)
			}
		}
	}

	if fires != 1 {
		t.Errorf("completion fired %d times, want exactly 1", fires)
	}
}

func TestTransportRoundTripThroughStore(t *testing.T) {
	// Wire an outbound transport directly into an inbound one and verify
	// the receiver reassembles the original bytes
	recvStore := testStore(t)
	var receiver *Transport

	sender := NewTransport(testStore(t), func(_ string, p *protocol.Payload) error {
		switch p.Type {
		case protocol.PayloadAttachmentMeta:
			return receiver.HandleMeta(p.Meta, "sender")
		case protocol.PayloadAttachmentChunk:
			_, err := receiver.HandleChunk(p.Chunk, "sender")
			return err
		}
		return nil
	})
	receiver = NewTransport(recvStore, func(string, *protocol.Payload) error { return nil })

	data := make([]byte, protocol.ChunkSize*2+777)
	for i := range data {
		data[i] = byte(i * 7)
	}

	if err := sender.SendAttachment("peer", "blob.bin", "application/octet-stream", data, nil); err != nil {
		t.Fatalf("SendAttachment() error = %v", err)
	}

	// Find the transfer id from the receiver side
	metas := []*Transfer{}
	rowsTr, err := recvStore.db.Query(`SELECT transfer_id FROM transfers`)
	if err != nil {
		t.Fatalf("query transfers: %v", err)
	}
	for rowsTr.Next() {
		var id string
		rowsTr.Scan(&id)
		tr, _ := recvStore.Transfer(id)
		metas = append(metas, tr)
	}
	rowsTr.Close()

	if len(metas) != 1 {
		t.Fatalf("receiver has %d transfers, want 1", len(metas))
	}

	got, err := receiver.Assemble(metas[0].TransferID)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
	}
}
