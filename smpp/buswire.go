package smpp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/praekeltfoundation/vumigo/bus"
	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/kvstore"
	"github.com/praekeltfoundation/vumigo/sequence"
)

// PDU frame types exchanged with the session gateway
const (
	PDUSubmit         = "submit_sm"
	PDUSubmitResponse = "submit_sm_resp"
	PDUDeliveryReport = "delivery_report"
	PDUInbound        = "deliver_sm"
)

// PDU is one frame exchanged with the session gateway process. The
// gateway owns the SMSC socket; the engine side only sees these frames.
type PDU struct {
	Type            string `json:"type"`
	SequenceNumber  uint32 `json:"sequence_number,omitempty"`
	RemoteMessageID string `json:"remote_message_id,omitempty"`
	Status          string `json:"status,omitempty"`
	Source          string `json:"source_addr,omitempty"`
	Destination     string `json:"destination_addr,omitempty"`
	Content         string `json:"short_message,omitempty"`
	Part            int    `json:"part,omitempty"`
	TotalParts      int    `json:"total_parts,omitempty"`
}

// BusWire implements WireProtocol across the message bus. Submissions are
// published as submit_sm frames on "<transport>.pdu.outbound"; the gateway
// publishes responses, delivery reports and mobile-originated messages on
// "<transport>.pdu.inbound", which Bind consumes and feeds to the engine.
// Sequence numbers come from the shared durable generator, so several
// engine processes can drive one bound session.
type BusWire struct {
	b        bus.Bus
	seq      *sequence.Generator
	name     string
	logger   *slog.Logger
	consumer bus.Consumer
}

// NewBusWire creates a bus-bridged wire protocol for one transport.
func NewBusWire(b bus.Bus, store kvstore.Store, transportName string, logger *slog.Logger) *BusWire {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusWire{
		b:      b,
		seq:    sequence.NewGenerator(store, transportName, 0),
		name:   transportName,
		logger: logger.With("component", "BusWire", "transport", transportName),
	}
}

func (w *BusWire) outboundKey() string { return w.name + ".pdu.outbound" }
func (w *BusWire) inboundKey() string  { return w.name + ".pdu.inbound" }

// Submit splits the payload per its strategy and publishes one submit_sm
// frame per segment, returning the sequence number of each. record is
// called with each sequence number before its frame is published, so the
// caller's correlation state is in place when the response comes back.
func (w *BusWire) Submit(ctx context.Context, payload SubmitPayload, record func(ctx context.Context, seq uint32) error) ([]uint32, error) {
	parts := SplitContent(payload.Content, payload.Strategy)
	seqs := make([]uint32, 0, len(parts))

	for i, part := range parts {
		n, err := w.seq.Next(ctx)
		if err != nil {
			return nil, errors.WrapTransient(err, "BusWire", "Submit", "sequence number")
		}
		seq := uint32(n)

		if record != nil {
			if err := record(ctx, seq); err != nil {
				return nil, errors.WrapTransient(err, "BusWire", "Submit", "sequence record")
			}
		}

		frame, err := json.Marshal(PDU{
			Type:           PDUSubmit,
			SequenceNumber: seq,
			Source:         payload.Source,
			Destination:    payload.Destination,
			Content:        part,
			Part:           i + 1,
			TotalParts:     len(parts),
		})
		if err != nil {
			return nil, errors.WrapInvalid(err, "BusWire", "Submit", "frame encode")
		}
		if err := w.b.Publish(ctx, w.outboundKey(), frame); err != nil {
			return nil, errors.WrapTransient(err, "BusWire", "Submit", "frame publish")
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

// Bind starts consuming gateway frames and routing them to the engine.
// Undecodable or unknown frames are logged and dropped so a bad frame
// never wedges the consumer.
func (w *BusWire) Bind(e *Engine) error {
	handler := func(ctx context.Context, data []byte) error {
		var p PDU
		if err := json.Unmarshal(data, &p); err != nil {
			w.logger.Warn("dropping undecodable PDU frame", "error", err)
			return nil
		}

		var err error
		switch p.Type {
		case PDUSubmitResponse:
			err = e.OnSubmitResponse(ctx, p.SequenceNumber, p.RemoteMessageID, SubmitStatus(p.Status))
		case PDUDeliveryReport:
			err = e.OnDeliveryReport(ctx, p.RemoteMessageID, p.Status)
		case PDUInbound:
			err = e.OnInboundMessage(ctx, p.Source, p.Destination, p.Content)
		default:
			w.logger.Warn("dropping PDU frame of unknown type", "type", p.Type)
			return nil
		}
		if err != nil {
			w.logger.Error("PDU frame handling failed", "type", p.Type, "error", err)
		}
		return err
	}

	consumer, err := w.b.Consume(w.inboundKey(), handler, 0)
	if err != nil {
		return errors.WrapTransient(err, "BusWire", "Bind", "frame consume")
	}
	w.consumer = consumer
	return nil
}

// Close stops the inbound frame consumer.
func (w *BusWire) Close() error {
	if w.consumer == nil {
		return nil
	}
	return w.consumer.Stop()
}
