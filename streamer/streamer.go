package streamer

import (
	"hash/crc32"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nanocockpit/cpxhost/cpx"
)

// reassembly states
const (
	awaitBegin = iota
	awaitData
)

// maxBufferSize bounds a BEGIN header's advertised buffer size. It is
// far larger than any real image or reply buffer this link carries,
// but keeps a corrupt or hostile Size field from driving an
// unbounded reassembly-buffer allocation.
const maxBufferSize = 16 * 1024 * 1024

// ImageFrame is what the receive side hands to a consumer once an
// image buffer has been fully reassembled and validated.
type ImageFrame struct {
	Metadata ImageMetadata
	// Pixels holds height rows of width*bpp bytes each, in arrival
	// order; a consumer reshapes it using Metadata.Width/Height/BitsPerPixel.
	Pixels []byte
	// DistanceGrid is set only when Metadata.DistanceSensor.Resolution > 0.
	DistanceGrid []byte
}

// Sink receives streamer-level buffer counters. internal/metrics.Collector
// implements this; the streamer never imports the metrics package
// directly, for the same reason transport.Sink exists.
type Sink interface {
	IncStreamerImageEmitted()
	IncStreamerReplyEmitted()
	IncStreamerCRCFailure()
}

type nopSink struct{}

func (nopSink) IncStreamerImageEmitted() {}
func (nopSink) IncStreamerReplyEmitted() {}
func (nopSink) IncStreamerCRCFailure()   {}

// Streamer reassembles CPX streamer-function packets into typed
// buffers and offers a matching send path for outgoing buffers and
// replies. It is driven by whatever transport the caller supplies
// through client; it installs no signal handlers of its own.
type Streamer struct {
	client *cpx.Client
	log    logrus.FieldLogger
	sink   Sink

	destination cpx.Target
	source      cpx.Target

	mu    sync.Mutex
	state int
	typ   uint8
	size  uint32
	crc   uint32
	buf   []byte

	frames chan ImageFrame
	done   chan struct{}

	shutdownMu sync.Mutex
	shutdown   bool
}

// New builds a Streamer bound to client, addressing outgoing packets
// from source to destination. sink may be nil. The caller is
// responsible for wiring process shutdown signals to Shutdown; this
// constructor installs none.
func New(client *cpx.Client, destination, source cpx.Target, sink Sink, log logrus.FieldLogger) *Streamer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if sink == nil {
		sink = nopSink{}
	}
	s := &Streamer{
		client:      client,
		log:         log.WithField("component", "streamer"),
		sink:        sink,
		destination: destination,
		source:      source,
		state:       awaitBegin,
		frames:      make(chan ImageFrame, 1),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// Receive returns the channel of fully reassembled, CRC-validated
// image frames. It is closed on Shutdown.
func (s *Streamer) Receive() <-chan ImageFrame { return s.frames }

// Shutdown idempotently stops the reassembly loop and the underlying
// client.
func (s *Streamer) Shutdown() {
	s.shutdownMu.Lock()
	already := s.shutdown
	s.shutdown = true
	s.shutdownMu.Unlock()
	if already {
		return
	}

	close(s.done)
	s.client.Shutdown()
}

func (s *Streamer) run() {
	defer close(s.frames)

	for packet := range s.client.Receive() {
		if packet.Header.Function != cpx.FunctionStreamer {
			continue
		}
		if len(packet.Payload) == 0 {
			continue
		}

		if frame, ok := s.ingest(packet.Payload); ok {
			select {
			case s.frames <- frame:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.done:
			return
		default:
		}
	}
}

// ingest feeds one streamer-function payload through the reassembly
// state machine. It returns a complete ImageFrame only when this
// payload completed a validated image buffer.
func (s *Streamer) ingest(payload []byte) (ImageFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	command := payload[0]

	if s.state == awaitData && command != CommandData {
		// any non-DATA command discards the partial buffer; a BEGIN is
		// then processed below as the start of a new one.
		s.log.Debug("streamer command desync, discarding partial buffer")
		s.resetToAwaitBegin()
	}

	switch s.state {
	case awaitBegin:
		if command != CommandBegin {
			// drop silently: no reassembly in progress
			return ImageFrame{}, false
		}
		hdr, err := DecodeBeginHeader(payload)
		if err != nil {
			s.log.WithError(err).Warn("malformed begin header")
			return ImageFrame{}, false
		}
		if hdr.Size > maxBufferSize {
			s.log.WithField("size", hdr.Size).Warn("begin header advertises an oversized buffer, discarding")
			return ImageFrame{}, false
		}

		s.typ = hdr.BufferType
		s.size = hdr.Size
		s.crc = hdr.Checksum
		s.buf = make([]byte, 0, hdr.Size)
		s.state = awaitData

		tail := payload[BeginBodySize:]
		s.appendTail(tail)

	case awaitData:
		if _, err := DecodeDataHeader(payload); err != nil {
			s.log.WithError(err).Warn("malformed data header")
			s.resetToAwaitBegin()
			return ImageFrame{}, false
		}

		tail := payload[DataBodySize:]
		s.appendTail(tail)
	}

	if uint32(len(s.buf)) < s.size {
		return ImageFrame{}, false
	}

	return s.validateAndEmit()
}

func (s *Streamer) appendTail(tail []byte) {
	remaining := int(s.size) - len(s.buf)
	if remaining < 0 {
		remaining = 0
	}
	if len(tail) > remaining {
		tail = tail[:remaining]
	}
	s.buf = append(s.buf, tail...)
}

func (s *Streamer) resetToAwaitBegin() {
	s.state = awaitBegin
	s.buf = nil
}

// validateAndEmit checks the CRC-32 of the reassembled buffer (per the
// zero-means-absent / 0xFFFFFFFF-means-a-computed-zero convention) and
// dispatches to a typed frame on success.
func (s *Streamer) validateAndEmit() (ImageFrame, bool) {
	buf := s.buf
	typ := s.typ
	checksum := s.crc
	s.resetToAwaitBegin()

	if checksum != 0 {
		sum := crc32.ChecksumIEEE(buf)
		if sum == 0 {
			sum = 0xFFFFFFFF
		}
		if sum != checksum {
			s.log.WithFields(logrus.Fields{"want": checksum, "got": sum}).Warn("streamer CRC mismatch, discarding buffer")
			s.sink.IncStreamerCRCFailure()
			return ImageFrame{}, false
		}
	}

	if typ != BufferTypeImage {
		// non-image buffers (e.g. a loopback echo of our own reply type)
		// are reassembled and validated but have no consumer-facing
		// dispatch here.
		return ImageFrame{}, false
	}

	meta, err := DecodeImageMetadata(buf)
	if err != nil {
		s.log.WithError(err).Warn("short image metadata")
		return ImageFrame{}, false
	}
	if meta.MetadataVersion != MetadataVersion {
		s.log.WithField("version", meta.MetadataVersion).Error("image metadata version mismatch, shutting down")
		s.Shutdown()
		return ImageFrame{}, false
	}

	pixels := buf[ImageMetadataPrefixSize:]

	frame := ImageFrame{
		Metadata: meta,
		Pixels:   pixels,
	}
	if n := meta.DistanceSensor.Resolution; n > 0 {
		if int(n) > len(meta.DistanceSensor.Samples) {
			s.log.WithField("resolution", n).Warn("distance sensor resolution exceeds sample grid, truncating")
			n = uint8(len(meta.DistanceSensor.Samples))
		}
		grid := make([]byte, n)
		copy(grid, meta.DistanceSensor.Samples[:n])
		frame.DistanceGrid = grid
	}

	s.sink.IncStreamerImageEmitted()
	return frame, true
}

// SendBuffer segments an opaque buffer into one BEGIN and zero or more
// DATA streamer packets and sends them through the client. A
// zero-length buffer still emits exactly one BEGIN with an empty tail.
func (s *Streamer) SendBuffer(typ uint8, data []byte) {
	mtu := s.client.MaxPayloadLength()
	checksum := crc32.ChecksumIEEE(data)
	if checksum == 0 {
		checksum = 0xFFFFFFFF
	}

	beginSlice := mtu - BeginBodySize
	if beginSlice < 0 {
		beginSlice = 0
	}
	if beginSlice > len(data) {
		beginSlice = len(data)
	}

	begin := BeginHeader{BufferType: typ, Size: uint32(len(data)), Checksum: checksum}.Encode()
	payload := append(begin[:], data[:beginSlice]...)
	s.send(payload)

	offset := beginSlice
	dataSlice := mtu - DataBodySize
	for offset < len(data) {
		end := offset + dataSlice
		if end > len(data) {
			end = len(data)
		}
		hdr := DataHeader{}.Encode()
		payload := append(hdr[:], data[offset:end]...)
		s.send(payload)
		offset = end
	}
}

// Output is a host-computed inference result ready to send back as a
// reply to the frame that produced it.
type Output struct {
	X, Y, Z, Phi float32
}

// SendReply builds and sends an inference reply buffer. When output
// is nil, the reply's inference timestamp is zero and the result
// floats are unspecified, per the "no output available" convention.
func (s *Streamer) SendReply(meta ImageMetadata, output *Output) {
	reply := ReplyBuffer{
		Stats: Stats{
			ReplyFrameTimestamp: meta.FrameTimestamp,
			ReplyFrameID:        meta.FrameID,
		},
	}
	if output != nil {
		reply.Inference = InferenceStamped{
			Timestamp: meta.State.Timestamp,
			X:         output.X,
			Y:         output.Y,
			Z:         output.Z,
			Phi:       output.Phi,
		}
	}
	s.SendBuffer(BufferTypeInference, reply.Encode())
	s.sink.IncStreamerReplyEmitted()
}

func (s *Streamer) send(payload []byte) {
	header := cpx.NewHeader(s.destination, cpx.FunctionStreamer, s.source)
	s.client.Send(header, payload)
}
