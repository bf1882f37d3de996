package messenger

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/driverkit/coord/halerr"
	"github.com/driverkit/coord/resource"
)

// ResourceOp is the operation requested by a ResourceRequestPayload.
type ResourceOp uint8

const (
	OpAcquire ResourceOp = iota // Request resource acquisition
	OpRelease                   // Request resource release
	OpQuery                     // Query resource status
	OpUpdate                    // Update resource metadata
)

// String returns the operation name.
func (op ResourceOp) String() string {
	switch op {
	case OpAcquire:
		return "acquire"
	case OpRelease:
		return "release"
	case OpQuery:
		return "query"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// ResourceRequestPayload asks a recipient to perform a resource operation.
// The wire form carries only the handle identity (id and name); recipients
// resolve the full handle against their registry.
type ResourceRequestPayload struct {
	Operation ResourceOp        // Requested operation
	Handle    resource.Handle   // Target resource
	Metadata  resource.Metadata // Replacement metadata for OpUpdate
}

// PayloadType implements Payload.
func (p *ResourceRequestPayload) PayloadType() string { return "ResourceRequest" }

// MarshalBinary encodes the payload as: op byte, u64 resource id, u32 name
// length, name bytes. Little-endian throughout.
func (p *ResourceRequestPayload) MarshalBinary() ([]byte, error) {
	name := p.Handle.Name()
	data := make([]byte, 0, 1+8+4+len(name))
	data = append(data, byte(p.Operation))
	data = binary.LittleEndian.AppendUint64(data, p.Handle.ID())
	data = binary.LittleEndian.AppendUint32(data, uint32(len(name)))
	data = append(data, name...)
	return data, nil
}

// UnmarshalBinary decodes the wire form. The restored handle carries only
// identity; metadata must be resolved against a registry.
func (p *ResourceRequestPayload) UnmarshalBinary(data []byte) error {
	r := payloadReader{data: data}
	op, ok := r.bytes(1)
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "resource request payload too short")
	}
	id, ok := r.uint64()
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "resource request payload too short")
	}
	nameLen, ok := r.uint32()
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "resource request payload too short")
	}
	name, ok := r.bytes(int(nameLen))
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "resource request name truncated")
	}
	p.Operation = ResourceOp(op[0])
	p.Handle = resource.RestoreHandle(id, string(name))
	return nil
}

// Clone implements Payload.
func (p *ResourceRequestPayload) Clone() Payload {
	clone := *p
	return &clone
}

// ResourceResponsePayload reports the outcome of a resource operation.
type ResourceResponsePayload struct {
	Success  bool              // Whether the operation succeeded
	Message  string            // Outcome description
	Handle   resource.Handle   // Resource the outcome refers to
	Metadata resource.Metadata // Metadata snapshot for OpQuery responses
}

// PayloadType implements Payload.
func (p *ResourceResponsePayload) PayloadType() string { return "ResourceResponse" }

// MarshalBinary encodes the payload as: success byte, u32 message length,
// message bytes.
func (p *ResourceResponsePayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 1+4+len(p.Message))
	if p.Success {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}
	data = binary.LittleEndian.AppendUint32(data, uint32(len(p.Message)))
	data = append(data, p.Message...)
	return data, nil
}

// UnmarshalBinary decodes the wire form.
func (p *ResourceResponsePayload) UnmarshalBinary(data []byte) error {
	r := payloadReader{data: data}
	success, ok := r.bytes(1)
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "resource response payload too short")
	}
	msgLen, ok := r.uint32()
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "resource response payload too short")
	}
	msg, ok := r.bytes(int(msgLen))
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "resource response message truncated")
	}
	p.Success = success[0] != 0
	p.Message = string(msg)
	return nil
}

// Clone implements Payload.
func (p *ResourceResponsePayload) Clone() Payload {
	clone := *p
	return &clone
}

// Metric is one named performance sample.
type Metric struct {
	Name      string    // Metric name
	Value     float64   // Sample value
	Unit      string    // Unit of measure
	Timestamp time.Time // When the sample was taken
}

// PerformancePayload carries driver telemetry over the bus.
type PerformancePayload struct {
	DriverID string   // Reporting driver
	Metrics  []Metric // Samples
}

// PayloadType implements Payload.
func (p *PerformancePayload) PayloadType() string { return "Performance" }

// MarshalBinary encodes: u32 driver id length, driver id bytes, u32 metric
// count, then per metric: u32 name length, name, f64 value, u32 unit
// length, unit. Timestamps are not serialized; they are restamped on
// decode.
func (p *PerformancePayload) MarshalBinary() ([]byte, error) {
	data := binary.LittleEndian.AppendUint32(nil, uint32(len(p.DriverID)))
	data = append(data, p.DriverID...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(p.Metrics)))
	for _, m := range p.Metrics {
		data = binary.LittleEndian.AppendUint32(data, uint32(len(m.Name)))
		data = append(data, m.Name...)
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(m.Value))
		data = binary.LittleEndian.AppendUint32(data, uint32(len(m.Unit)))
		data = append(data, m.Unit...)
	}
	return data, nil
}

// UnmarshalBinary decodes the wire form.
func (p *PerformancePayload) UnmarshalBinary(data []byte) error {
	r := payloadReader{data: data}
	idLen, ok := r.uint32()
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "performance payload too short")
	}
	driverID, ok := r.bytes(int(idLen))
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "performance driver id truncated")
	}
	p.DriverID = string(driverID)

	count, ok := r.uint32()
	if !ok {
		return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "performance metric count missing")
	}
	now := time.Now()
	p.Metrics = p.Metrics[:0]
	for i := uint32(0); i < count; i++ {
		var m Metric
		nameLen, ok := r.uint32()
		if !ok {
			return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "metric name length missing")
		}
		name, ok := r.bytes(int(nameLen))
		if !ok {
			return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "metric name truncated")
		}
		m.Name = string(name)
		bits, ok := r.uint64()
		if !ok {
			return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "metric value missing")
		}
		m.Value = math.Float64frombits(bits)
		unitLen, ok := r.uint32()
		if !ok {
			return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "metric unit length missing")
		}
		unit, ok := r.bytes(int(unitLen))
		if !ok {
			return halerr.New(halerr.CategoryValidation, "SHORT_PAYLOAD", "metric unit truncated")
		}
		m.Unit = string(unit)
		m.Timestamp = now
		p.Metrics = append(p.Metrics, m)
	}
	return nil
}

// Clone implements Payload.
func (p *PerformancePayload) Clone() Payload {
	clone := &PerformancePayload{
		DriverID: p.DriverID,
		Metrics:  append([]Metric(nil), p.Metrics...),
	}
	return clone
}

// payloadReader is a bounds-checked cursor over serialized payload bytes.
type payloadReader struct {
	data []byte
	off  int
}

func (r *payloadReader) uint32() (uint32, bool) {
	if r.off+4 > len(r.data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, true
}

func (r *payloadReader) uint64() (uint64, bool) {
	if r.off+8 > len(r.data) {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, true
}

func (r *payloadReader) bytes(n int) ([]byte, bool) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, false
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, true
}
